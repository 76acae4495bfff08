package tracing

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
)

// Tracer wraps the New Relic agent. A disabled tracer hands out nil
// transactions, which the agent treats as no-ops.
type Tracer struct {
	app     *newrelic.Application
	enabled bool
}

// NewTracer creates a new tracer
func NewTracer(cfg config.NewRelicConfig) (*Tracer, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &Tracer{enabled: false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogForwarding),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	return &Tracer{app: app, enabled: true}, nil
}

// Application returns the agent application, nil when disabled
func (t *Tracer) Application() *newrelic.Application {
	return t.app
}

// Enabled reports whether transactions are reported
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// StartTransaction starts a background transaction and attaches it to ctx
func (t *Tracer) StartTransaction(ctx context.Context, name string) (context.Context, *newrelic.Transaction) {
	if !t.enabled || t.app == nil {
		return ctx, nil
	}
	txn := t.app.StartTransaction(name)
	return newrelic.NewContext(ctx, txn), txn
}

// StartSpan starts a segment in the transaction carried by ctx
func StartSpan(ctx context.Context, name string) *newrelic.Segment {
	return newrelic.FromContext(ctx).StartSegment(name)
}

// EndTransaction records err, if any, and ends the transaction
func (t *Tracer) EndTransaction(txn *newrelic.Transaction, err error) {
	if txn == nil {
		return
	}
	if err != nil {
		txn.NoticeError(err)
	}
	txn.End()
}

// Close flushes pending data to New Relic
func (t *Tracer) Close() {
	if !t.enabled || t.app == nil {
		return
	}
	t.app.Shutdown(10 * time.Second)
	log.Info().Msg("New Relic tracer shutdown")
}
