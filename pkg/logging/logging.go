// Package logging builds the process logger.
package logging

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/Ramsey-B/clover/pkg/runcontext"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger
type Options struct {
	AppName string
	Level   string
	Pretty  bool
}

// New builds a zap backed ectologger. Pretty selects the development encoder.
// Messages logged with a context carrying an active span get trace_id and span_id fields.
func New(opts Options) (ectologger.Logger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if opts.Pretty {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if opts.AppName != "" {
		zapLogger = zapLogger.With(zap.String("app", opts.AppName))
	}

	sync := func() {
		_ = zapLogger.Sync()
	}

	return zapadapter.NewZapEctoLogger(zapLogger, WithTraceFields), sync, nil
}

// WithTraceFields copies the run id and the trace and span ids of the message context
// into its fields
func WithTraceFields(msg ectologger.EctoLogMessage) ectologger.EctoLogMessage {
	if msg.Ctx == nil {
		return msg
	}

	runID := runcontext.GetRunID(msg.Ctx)
	traceID := tracing.GetTraceID(msg.Ctx)
	if runID == "" && traceID == "" {
		return msg
	}

	fields := make(map[string]interface{}, len(msg.Fields)+3)
	for k, v := range msg.Fields {
		fields[k] = v
	}
	if runID != "" {
		fields["run_id"] = runID
	}
	if traceID != "" {
		fields["trace_id"] = traceID
		fields["span_id"] = tracing.GetSpanID(msg.Ctx)
	}
	msg.Fields = fields

	return msg
}

// Discard returns a logger that drops every message
func Discard() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}
