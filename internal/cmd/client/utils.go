package client

import (
	"encoding/base64"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rzbill/evstore/internal/eventstore"
)

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

// renderEvents turns events into printable maps.
func renderEvents(events []eventstore.Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		m := decodedData(ev.Data)
		m["id"] = ev.ID.String()
		m["stream"] = ev.StreamKey
		m["sequence"] = ev.Sequence
		m["type"] = ev.Type
		m["timestamp"] = ev.Timestamp
		m["archived"] = ev.Archived
		if len(ev.Metadata) > 0 {
			m["metadata"] = ev.Metadata
		}
		out = append(out, m)
	}
	return out
}

// decodedData returns a map with one of data_json, data_text, or data_b64.
func decodedData(data []byte) map[string]any {
	out := map[string]any{}
	// JSON first, including scalars
	if len(data) > 0 && json.Valid(data) {
		out["data_json"] = json.RawMessage(data)
		return out
	}
	// Then UTF-8 text
	if utf8.Valid(data) {
		out["data_text"] = string(data)
		return out
	}
	// Fallback to base64
	out["data_b64"] = base64.StdEncoding.EncodeToString(data)
	return out
}
