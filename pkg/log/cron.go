package log

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts Logger to cron.Logger.
type CronLogger struct{ l Logger }

// NewCronLogger wraps l for use with cron.WithLogger and cron job wrappers.
func NewCronLogger(l Logger) cron.Logger {
	return &CronLogger{l: l}
}

// Info logs routine scheduler activity at debug level.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kvFields(keysAndValues)...)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kvFields(keysAndValues), Err(err))...)
}

// kvFields turns cron's even-odd key/value slice into fields, formatting
// time values as RFC3339.
func kvFields(keysAndValues []interface{}) []Field {
	out := make([]Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		v := keysAndValues[i+1]
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		out = append(out, Any(key, v))
	}
	return out
}
