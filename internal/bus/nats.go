// internal/bus/nats.go

// Package bus is the NATS transport: lifecycle events go out through
// PublishJSON and execute requests come in through SubscribeRequests.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// HandlerTimeout bounds one inbound request.
const HandlerTimeout = 30 * time.Second

type Client struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func Connect(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("ml-orchestrator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, logger: logger}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// RequestHandler answers one inbound message. The returned bytes are sent to
// the message's reply subject, if it has one.
type RequestHandler func(ctx context.Context, data []byte) []byte

func (c *Client) SubscribeRequests(subject string, handler RequestHandler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
		defer cancel()
		reply := handler(ctx, msg.Data)
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("nats reply failed", "subject", subject, "err", err)
		}
	})
}
