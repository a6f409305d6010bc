package bot

// HandlerKind namespaces the per-event payload so one handler can leave data
// for another without sharing a key space.
type HandlerKind int

const (
	KindPrompt HandlerKind = iota + 1
	KindGame
	KindDiffuse
)

func (k HandlerKind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindGame:
		return "game"
	case KindDiffuse:
		return "diffuse"
	default:
		return "unknown"
	}
}

func (rc *RequestContext) SetPayload(kind HandlerKind, key string, value any) {
	if rc.payload == nil {
		rc.payload = make(map[HandlerKind]map[string]any)
	}
	m, ok := rc.payload[kind]
	if !ok {
		m = make(map[string]any)
		rc.payload[kind] = m
	}
	m[key] = value
}

// Payload never creates entries on read.
func (rc *RequestContext) Payload(kind HandlerKind, key string) (any, bool) {
	m, ok := rc.payload[kind]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// PayloadAs is Payload with a type assertion; a value of the wrong type reads
// as absent.
func PayloadAs[T any](rc *RequestContext, kind HandlerKind, key string) (T, bool) {
	var zero T
	v, ok := rc.Payload(kind, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
