package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"holding-parade/server/logging"
)

// Zap forwards events to a zap logger, one structured entry per event.
type Zap struct {
	logger *zap.Logger
}

// NewZap wraps logger. A nil logger falls back to zap's production JSON config.
func NewZap(logger *zap.Logger) (*Zap, error) {
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		logger = built
	}
	return &Zap{logger: logger}, nil
}

func (s *Zap) Write(event logging.Event) error {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.Uint64("tick", event.Tick),
		zap.Time("time", event.Time),
		zap.String("actor", formatEntity(event.Actor)),
	}
	if event.Category != "" {
		fields = append(fields, zap.String("category", event.Category))
	}
	if len(event.Targets) > 0 {
		fields = append(fields, zap.String("targets", formatTargets(event.Targets)))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	for k, v := range event.Extra {
		fields = append(fields, zap.Any(k, v))
	}
	if ce := s.logger.Check(zapLevel(event.Severity), string(event.Type)); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync on stdout/stderr returns EINVAL on some platforms; nothing useful to report.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
