package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/fabriclabs/unshub/internal/types"
)

// DefaultSubject subscribes to everything on the broker.
const DefaultSubject = ">"

// NATSConnector subscribes to a NATS subject tree and emits one data point
// per message. Subjects map to topics by replacing the NATS separator:
// "factory.line1.temp" becomes "factory/line1/temp".
type NATSConnector struct {
	cfg types.ConnectorConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NewNATS creates a connector from its configuration. Address is the broker
// URL; Subject defaults to the full wildcard.
func NewNATS(cfg types.ConnectorConfig, log *slog.Logger) *NATSConnector {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	return &NATSConnector{cfg: cfg, log: log}
}

func (c *NATSConnector) Name() string { return c.cfg.Name }

// Start connects (retrying with exponential backoff) and delivers messages
// to sink until the context is cancelled or Stop is called.
func (c *NATSConnector) Start(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(c.cfg.Subject, func(msg *nats.Msg) {
		dp := c.decode(msg)
		if !sink(dp) {
			c.log.Debug("point rejected downstream", "connector", c.cfg.Name, "topic", dp.Topic)
		}
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("connector %s: subscribe %q: %w", c.cfg.Name, c.cfg.Subject, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.sub = sub
	c.mu.Unlock()
	c.log.Info("nats connector started",
		"connector", c.cfg.Name, "url", c.cfg.Address, "subject", c.cfg.Subject)

	<-ctx.Done()
	c.shutdown()
	return nil
}

// Stop cancels the running Start.
func (c *NATSConnector) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// connect dials the broker, retrying until the context is cancelled. Once
// connected, the client reconnects on its own indefinitely.
func (c *NATSConnector) connect(ctx context.Context) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("unshub-" + c.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn("nats disconnected", "connector", c.cfg.Name, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info("nats reconnected", "connector", c.cfg.Name, "url", nc.ConnectedUrl())
		}),
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.RetryWithData(func() (*nats.Conn, error) {
		conn, err := nats.Connect(c.cfg.Address, opts...)
		if err != nil {
			c.log.Warn("nats connect failed, retrying",
				"connector", c.cfg.Name, "url", c.cfg.Address, "error", err)
			return nil, err
		}
		return conn, nil
	}, policy)
}

func (c *NATSConnector) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.log.Info("nats connector stopped", "connector", c.cfg.Name)
}

// wirePoint is the JSON message shape sources publish. All fields optional.
type wirePoint struct {
	Value       any               `json:"value"`
	TimestampMs int64             `json:"timestamp_ms"`
	Quality     types.Quality     `json:"quality"`
	Metadata    map[string]string `json:"metadata"`
}

// decode maps one message to a data point. Structured JSON payloads carry
// value, timestamp and quality; anything else is taken as a raw value with
// the receive time.
func (c *NATSConnector) decode(msg *nats.Msg) types.DataPoint {
	dp := types.DataPoint{
		Topic:        subjectToTopic(msg.Subject),
		Timestamp:    time.Now(),
		SourceSystem: c.cfg.Name,
		Quality:      types.QualityGood,
	}

	var wire wirePoint
	if err := json.Unmarshal(msg.Data, &wire); err == nil && wire.Value != nil {
		dp.Value = wire.Value
		if wire.TimestampMs > 0 {
			dp.Timestamp = time.UnixMilli(wire.TimestampMs)
		}
		if wire.Quality != "" {
			dp.Quality = wire.Quality
		}
		dp.Metadata = wire.Metadata
		return dp
	}

	// Bare JSON scalar, or raw bytes as a string.
	var scalar any
	if err := json.Unmarshal(msg.Data, &scalar); err == nil {
		dp.Value = scalar
	} else {
		dp.Value = string(msg.Data)
	}
	return dp
}

func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", types.PathSeparator)
}
