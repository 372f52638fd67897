// Package publish ships sweep reports onto NATS.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/binscan/core/natsctx"
	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/core/resilience"
	"github.com/swarmguard/binscan/internal/sweep"
)

// ErrCircuitOpen means the bus has been failing and the report was dropped.
var ErrCircuitOpen = errors.New("publisher circuit open")

type sendFunc func(ctx context.Context, subject string, data []byte, hdr map[string]string) error

// Publisher is safe for concurrent use.
type Publisher struct {
	nc       *nats.Conn
	subject  string
	send     sendFunc
	breaker  *resilience.CircuitBreaker
	metrics  otelinit.Metrics
	attempts int
	delay    time.Duration

	// OnlyFlagged skips reports whose verdict is none.
	OnlyFlagged bool
}

// Connect dials url and publishes to subject.
func Connect(url, subject string, m otelinit.Metrics) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("binscan"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	p := newPublisher(subject, func(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
		return natsctx.Publish(ctx, nc, subject, data, hdr)
	}, m)
	p.nc = nc
	return p, nil
}

func newPublisher(subject string, send sendFunc, m otelinit.Metrics) *Publisher {
	return &Publisher{
		subject:  subject,
		send:     send,
		breaker:  resilience.NewCircuitBreaker(5, 30*time.Second),
		metrics:  m,
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
}

// Publish sends rep as JSON. Reports are dropped with ErrCircuitOpen while the
// breaker is open.
func (p *Publisher) Publish(ctx context.Context, rep sweep.Report) error {
	if p.OnlyFlagged && len(rep.Flagged()) == 0 {
		return nil
	}
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	hdr := map[string]string{
		"Binscan-Report-Id": rep.ID,
		"Binscan-Verdict":   rep.Verdict.String(),
		"Binscan-Sha256":    rep.Target.SHA256,
	}
	_, err = resilience.Retry(ctx, "publish", p.attempts, p.delay, func() (struct{}, error) {
		err := p.send(ctx, p.subject, data, hdr)
		if isPermanent(err) {
			return struct{}{}, resilience.Permanent(err)
		}
		return struct{}{}, err
	})
	p.breaker.RecordResult(err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.metrics.Published.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", rep.Verdict.String())))
	return nil
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrBadSubject) ||
		errors.Is(err, nats.ErrMaxPayload)
}

// BreakerState exposes the breaker for /health.
func (p *Publisher) BreakerState() string { return p.breaker.State() }

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
