package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/redis/go-redis/v9"

	"keepto/internal/observability"
)

const redisPrefix = "keepto:docs:"

// Redis relays notifications through Redis pub/sub so every server instance
// wakes its own listeners.
type Redis struct {
	*Local
	rdb    *redis.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis subscribes to the change channels and starts relaying them to
// local subscribers until Close or ctx ends.
func NewRedis(ctx context.Context, rdb *redis.Client, logger *slog.Logger) (*Redis, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := rdb.PSubscribe(ctx, redisPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to change channels: %w", err)
	}

	r := &Redis{
		Local:  NewLocal(logger),
		rdb:    rdb,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ch := sub.Channel()

	go func() {
		defer close(r.done)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							r.logger.Error("panic in redis change relay",
								slog.Any("panic", rec),
								slog.String("stack", string(debug.Stack())))
						}
					}()
					collection := msg.Payload
					if collection == "" {
						collection = strings.TrimPrefix(msg.Channel, redisPrefix)
					}
					r.Dispatch(collection)
				}()
			}
		}
	}()

	return r, nil
}

// Publish announces a change to every instance. When Redis is unreachable
// the local listeners are still woken so this instance's views stay current.
func (r *Redis) Publish(ctx context.Context, collection string) error {
	if err := r.rdb.Publish(ctx, redisPrefix+collection, collection).Err(); err != nil {
		observability.ChangefeedErrors.WithLabelValues("redis", "publish").Inc()
		r.logger.Warn("redis publish failed, notifying local listeners only",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
		r.Local.Dispatch(collection)
		return fmt.Errorf("publish change for %s: %w", collection, err)
	}
	return nil
}

func (r *Redis) Close() error {
	r.cancel()
	<-r.done
	return nil
}
