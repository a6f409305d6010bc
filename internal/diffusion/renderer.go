// Package diffusion renders prompts into images through an external Stable
// Diffusion server.
package diffusion

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// ErrNoImages is returned when a render produced nothing to post.
var ErrNoImages = errors.New("renderer returned no images")

// Renderer returns at least one image or an error.
type Renderer interface {
	Render(ctx context.Context, req Request) ([][]byte, error)
}

type Request struct {
	Prompt         string
	NegativePrompt string
	Params         Params
}

// Params are txt2img options passed through to the server.
type Params map[string]any

// allowedArgs lists the options a user may set from a post, with their kind.
var allowedArgs = map[string]string{
	"steps":      "int",
	"cfg_scale":  "float",
	"width":      "int",
	"height":     "int",
	"seed":       "int",
	"batch_size": "int",
	"sampler":    "string",
}

// argLimits caps user-supplied numbers.
var argLimits = map[string]float64{
	"steps":      150,
	"cfg_scale":  30,
	"width":      1024,
	"height":     1024,
	"batch_size": 9,
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	maps.Copy(out, p)
	maps.Copy(out, other)
	return out
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ParseArgs converts user supplied key=value pairs into Params. Unknown keys
// are reported back so the caller can tell the user.
func ParseArgs(args map[string]string) (Params, []string, error) {
	out := Params{}
	var unknown []string
	for k, raw := range args {
		key := strings.ToLower(strings.TrimSpace(k))
		kind, ok := allowedArgs[key]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		raw = strings.TrimSpace(raw)
		switch kind {
		case "int":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, unknown, fmt.Errorf("%s must be an integer", key)
			}
			if limit, ok := argLimits[key]; ok && (float64(n) > limit || n < 1) {
				return nil, unknown, fmt.Errorf("%s must be between 1 and %d", key, int(limit))
			}
			out[key] = n
		case "float":
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, unknown, fmt.Errorf("%s must be a number", key)
			}
			if limit, ok := argLimits[key]; ok && (f > limit || f <= 0) {
				return nil, unknown, fmt.Errorf("%s must be between 0 and %g", key, limit)
			}
			out[key] = f
		default:
			out[key] = raw
		}
	}
	return out, unknown, nil
}
