package log

import (
	"time"

	"github.com/rs/zerolog"
)

// Context keys used for common fields.
const (
	ComponentKey = "component"
	TenantKey    = "tenant"
	StreamKey    = "stream"
	ErrorKey     = "error"
)

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value any
}

func Str(key, v string) Field               { return Field{Key: key, Value: v} }
func Int(key string, v int) Field           { return Field{Key: key, Value: v} }
func Int64(key string, v int64) Field       { return Field{Key: key, Value: v} }
func Uint64(key string, v uint64) Field     { return Field{Key: key, Value: v} }
func Bool(key string, v bool) Field         { return Field{Key: key, Value: v} }
func Dur(key string, v time.Duration) Field { return Field{Key: key, Value: v} }
func Any(key string, v any) Field           { return Field{Key: key, Value: v} }
func Err(err error) Field                   { return Field{Key: ErrorKey, Value: err} }
func Component(name string) Field           { return Field{Key: ComponentKey, Value: name} }
func Tenant(id string) Field                { return Field{Key: TenantKey, Value: id} }
func Stream(key string) Field               { return Field{Key: StreamKey, Value: key} }

func (f Field) applyEvent(e *zerolog.Event) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return e.Str(f.Key, v)
	case int:
		return e.Int(f.Key, v)
	case int64:
		return e.Int64(f.Key, v)
	case uint64:
		return e.Uint64(f.Key, v)
	case bool:
		return e.Bool(f.Key, v)
	case time.Duration:
		return e.Dur(f.Key, v)
	case error:
		return e.AnErr(f.Key, v)
	default:
		return e.Interface(f.Key, v)
	}
}

func (f Field) applyContext(c zerolog.Context) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return c.Str(f.Key, v)
	case int:
		return c.Int(f.Key, v)
	case int64:
		return c.Int64(f.Key, v)
	case uint64:
		return c.Uint64(f.Key, v)
	case bool:
		return c.Bool(f.Key, v)
	case time.Duration:
		return c.Dur(f.Key, v)
	case error:
		return c.AnErr(f.Key, v)
	default:
		return c.Interface(f.Key, v)
	}
}
