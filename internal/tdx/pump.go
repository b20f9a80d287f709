package tdx

import (
	"context"

	"github.com/zelenin/go-tdlib/client"
)

// Handler consumes one push update. Handlers run on the pump goroutine, one
// update at a time, so they never race with each other.
type Handler func(client.Type)

// Pump is a single-consumer inbox over the client's update channel. It
// exists to keep update processing serialized regardless of how the
// underlying client delivers notifications.
type Pump struct {
	handlers []Handler
}

func NewPump(hh ...Handler) *Pump {
	return &Pump{handlers: hh}
}

// Run drains updates, dispatching each one to every handler in registration
// order. It returns when the channel is closed or the context is cancelled.
func (p *Pump) Run(ctx context.Context, updates <-chan client.Type) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			for _, h := range p.handlers {
				h(upd)
			}
		}
	}
}
