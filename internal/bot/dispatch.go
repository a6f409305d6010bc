package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/mastodon"
)

// Handler claims events by tag or mention. Handle reports whether it consumed
// the event; later handlers are not offered a consumed event.
type Handler interface {
	Kind() HandlerKind
	Matches(rc *RequestContext) bool
	Handle(ctx context.Context, rc *RequestContext) (consumed bool, err error)
}

// Ledger remembers which statuses were dispatched. MarkProcessed reports
// false if the id was already marked.
type Ledger interface {
	MarkProcessed(ctx context.Context, statusID string) (bool, error)
}

type Dispatcher struct {
	self     mastodon.Account
	poster   Poster
	ledger   Ledger
	handlers []Handler
}

// NewDispatcher offers every event to handlers in the given order. A nil
// ledger falls back to an in-memory one.
func NewDispatcher(self mastodon.Account, poster Poster, ledger Ledger, handlers ...Handler) *Dispatcher {
	if ledger == nil {
		ledger = NewMemoryLedger(10000)
	}
	return &Dispatcher{self: self, poster: poster, ledger: ledger, handlers: handlers}
}

// Run dispatches statuses one at a time in arrival order until ctx is done or
// the channel closes.
func (d *Dispatcher) Run(ctx context.Context, in <-chan mastodon.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-in:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, st)
		}
	}
}

// Dispatch runs one status through the handler chain. It returns the number
// of handlers that ran.
func (d *Dispatcher) Dispatch(ctx context.Context, st mastodon.Status) int {
	rc := NewRequestContext(st, d.self, d.poster)
	if rc.IsFromSelf() {
		return 0
	}
	fresh, err := d.ledger.MarkProcessed(ctx, st.ID)
	if err != nil {
		log.Error().Err(err).Str("status", st.ID).Msg("dispatch: ledger")
		return 0
	}
	if !fresh {
		log.Debug().Str("status", st.ID).Msg("dispatch: duplicate")
		return 0
	}

	dispatchID := uuid.NewString()
	logger := log.With().Str("dispatch", dispatchID).Str("status", st.ID).Str("acct", st.Account.Acct).Logger()
	logger.Debug().Int("tags", len(st.Tags)).Bool("mentions_bot", rc.MentionsBot()).Msg("dispatch")

	ran := 0
	for _, h := range d.handlers {
		matched, consumed, err := d.offer(ctx, h, rc)
		if !matched {
			continue
		}
		ran++
		if err != nil {
			logger.Error().Err(err).Str("handler", h.Kind().String()).Msg("dispatch: handler failed")
		}
		if consumed {
			logger.Debug().Str("handler", h.Kind().String()).Msg("dispatch: consumed")
			break
		}
	}
	return ran
}

func (d *Dispatcher) offer(ctx context.Context, h Handler, rc *RequestContext) (matched, consumed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, consumed = true, false
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if !h.Matches(rc) {
		return false, false, nil
	}
	matched = true
	consumed, err = h.Handle(ctx, rc)
	return matched, consumed, err
}

// MemoryLedger keeps the most recent ids in memory.
type MemoryLedger struct {
	mu    sync.Mutex
	max   int
	seen  map[string]struct{}
	order []string
}

func NewMemoryLedger(max int) *MemoryLedger {
	return &MemoryLedger{max: max, seen: make(map[string]struct{})}
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, statusID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[statusID]; ok {
		return false, nil
	}
	l.seen[statusID] = struct{}{}
	l.order = append(l.order, statusID)
	if l.max > 0 && len(l.order) > l.max {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
	return true, nil
}
