package docstore

import (
	"context"
	"sync"
)

// Pump serializes deliveries for one listener. Every Kick schedules a run of
// the listener's refresh function; kicks that arrive while a run is pending
// collapse into one, so a slow consumer sees the latest state rather than a
// backlog of intermediate ones.
type Pump struct {
	kick   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// StartPump starts the delivery goroutine and schedules the initial run.
func StartPump(ctx context.Context, run func(ctx context.Context)) *Pump {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pump{
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	p.Kick()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-p.kick:
			}
			select {
			case <-p.done:
				return
			default:
			}
			run(ctx)
		}
	}()
	return p
}

// Kick schedules a run without blocking.
func (p *Pump) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stop cancels any in-flight run and ends the goroutine. It does not wait.
func (p *Pump) Stop() {
	p.once.Do(func() {
		close(p.done)
		p.cancel()
	})
}

// Done is closed once Stop has been called.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}
