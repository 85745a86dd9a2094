package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scalper-backend/internal/config"
	"scalper-backend/internal/domain"
)

// New builds the process logger from the log settings.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Format
	zc.EncoderConfig = encoderConfig
	if cfg.Format == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zc.Build(zap.AddCaller())
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Stable field names shared across components.

func Pair(pair string) zap.Field { return zap.String("pair", pair) }

func Side[T domain.SignalType | domain.OrderSide](side T) zap.Field {
	return zap.String("side", string(side))
}

func Confidence(c float64) zap.Field { return zap.Float64("confidence", c) }

func Price(p float64) zap.Field { return zap.Float64("price", p) }

func OrderID(id string) zap.Field { return zap.String("order_id", id) }

func Reason[T ~string](r T) zap.Field { return zap.String("reason", string(r)) }
