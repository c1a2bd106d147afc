package log

import (
	"github.com/ThreeDotsLabs/watermill"
)

// WatermillAdapter bridges Logger into watermill.LoggerAdapter.
type WatermillAdapter struct {
	l Logger
}

// NewWatermillAdapter wraps l for use by watermill publishers and routers.
func NewWatermillAdapter(l Logger) watermill.LoggerAdapter {
	return &WatermillAdapter{l: l}
}

func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(msg, append(toFields(fields), Err(err))...)
}

func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, toFields(fields)...)
}

func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toFields(fields)...)
}

// Trace is folded into debug.
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toFields(fields)...)
}

func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{l: a.l.With(toFields(fields)...)}
}

func toFields(fields watermill.LogFields) []Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, Any(k, v))
	}
	return out
}
