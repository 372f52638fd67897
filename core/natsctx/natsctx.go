package natsctx

import (
	"context"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

var propagator = propagation.TraceContext{}

// Publish injects traceparent into headers and publishes. Extra headers are
// copied onto the message before the trace context is added.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte, extra map[string]string) error {
	hdr := nats.Header{}
	for k, v := range extra {
		hdr.Set(k, v)
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	return nc.PublishMsg(msg)
}
