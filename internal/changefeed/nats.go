package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"keepto/internal/observability"
)

const natsPrefix = "keepto.docs."

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string
	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATS relays notifications over core NATS subjects.
type NATS struct {
	*Local
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATS connects and starts relaying change subjects to local subscribers.
func NewNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	local := NewLocal(logger)
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				local.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			local.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATS{Local: local, conn: nc}
	n.sub, err = nc.Subscribe(natsPrefix+">", func(msg *nats.Msg) {
		n.Dispatch(string(msg.Data))
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to change subjects: %w", err)
	}
	return n, nil
}

// Subject maps a collection path onto a NATS subject.
func Subject(collection string) string {
	return natsPrefix + strings.ReplaceAll(strings.Trim(collection, "/"), "/", ".")
}

func (n *NATS) Publish(_ context.Context, collection string) error {
	if err := n.conn.Publish(Subject(collection), []byte(collection)); err != nil {
		observability.ChangefeedErrors.WithLabelValues("nats", "publish").Inc()
		n.Local.Dispatch(collection)
		return fmt.Errorf("publish change for %s: %w", collection, err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	return n.conn.Drain()
}
