package telemetry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics for one invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	// RunID identifies the invocation in logs, spans and metrics.
	RunID string

	// Command is the subcommand being run, set once it is known.
	Command string
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger creates a telemetry instance around an existing
// logger. Used where the log output is not a file, e.g. in tests.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	runID := uuid.NewString()
	logger = logger.WithRunID(runID)

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, logger.Output())
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
		RunID:   runID,
	}, nil
}

// Nop returns a telemetry instance which discards everything.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	logger := FromContext(context.Background())
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, nil)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Config: cfg}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes spans and writes the metrics textfile, if configured.
// Both are attempted; the first error is returned.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	errTrace := t.Tracer.Shutdown(ctx)
	errMetrics := t.Metrics.WriteTextfile(t.Config.Metrics.TextfilePath)
	return errors.Join(errTrace, errMetrics)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	attrs = append(attrs, AttrRunID.String(tel.RunID))
	if tel.Command != "" {
		attrs = append(attrs, AttrCommand.String(tel.Command))
	}
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if id := TraceID(spanCtx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
// A failed span is tagged with the error's class and code, if it has them.
func (ic *InstrumentedContext) End(err error) {
	if err != nil {
		ic.Logger.WithError(err).Debugf("operation failed after %s", ic.Timer.Duration())
	}
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
		if class, code := ErrorLabels(err); class != "" {
			ic.Span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
		}
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// LabeledError is implemented by errors carrying a class and a code, such
// as the planner's errors.
type LabeledError interface {
	error
	ErrorLabels() (class, code string)
}

// ErrorLabels returns the class and code of the first LabeledError in the
// chain of err, or empty strings.
func ErrorLabels(err error) (class, code string) {
	var le LabeledError
	if errors.As(err, &le) {
		return le.ErrorLabels()
	}
	return "", ""
}
