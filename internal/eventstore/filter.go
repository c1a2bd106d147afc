package eventstore

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program evaluated against events during
// scans. When disabled, Eval always returns true.
//
// Variables: event_type, stream, sequence, ts_ms, size, text, json, metadata, now_ms.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("stream", cel.StringType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON body (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return celFilter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, iss.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against ev. Evaluation errors count as false.
func (f celFilter) Eval(ev Event) bool {
	if !f.enabled {
		return true
	}
	var body any
	_ = json.Unmarshal(ev.Data, &body)
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"event_type": ev.Type,
		"stream":     ev.StreamKey,
		"sequence":   ev.Sequence,
		"ts_ms":      ev.Timestamp.UnixMilli(),
		"size":       int64(len(ev.Data)),
		"text":       string(ev.Data),
		"json":       body,
		"metadata":   meta,
		"now_ms":     time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
