package h2mux

import (
	"go.uber.org/zap"
)

// logger is the thin sugared-zap wrapper used throughout the connection
// engine, mirroring the shape of packetd's logger.Logger: a handful of
// leveled printf-style methods rather than zap's structured-field API,
// since the engine's own log lines are low-volume diagnostics, not a hot
// structured-telemetry path.
type logger struct {
	sugared *zap.SugaredLogger
}

func (l logger) Debugf(template string, args ...interface{}) {
	if l.sugared == nil {
		return
	}
	l.sugared.Debugf(template, args...)
}

func (l logger) Infof(template string, args ...interface{}) {
	if l.sugared == nil {
		return
	}
	l.sugared.Infof(template, args...)
}

func (l logger) Warnf(template string, args ...interface{}) {
	if l.sugared == nil {
		return
	}
	l.sugared.Warnf(template, args...)
}

func (l logger) Errorf(template string, args ...interface{}) {
	if l.sugared == nil {
		return
	}
	l.sugared.Errorf(template, args...)
}

// newDefaultLogger builds the no-op zap logger used when a Connection is
// not given an explicit one via Config.Logger.
func newDefaultLogger() logger {
	return logger{sugared: zap.NewNop().Sugar()}
}
