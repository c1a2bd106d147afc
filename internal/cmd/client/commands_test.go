package client

import (
	"bytes"
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/evstore/internal/eventstore"
)

func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EVSTORE_CONFIG", "")
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--data-dir", dataDir, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestScenarioThroughCLI(t *testing.T) {
	for _, driver := range []string{"pebble", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			do := func(args ...string) string {
				out, err := run(t, dir, append(args, "--driver", driver)...)
				require.NoError(t, err, out)
				return out
			}

			do("append", "test-tenant", "test-stream", "--type", "int", "--data", "1", "--data", "2")
			do("archive", "test-tenant", "test-stream")

			var st eventstore.StreamState
			require.NoError(t, json.Unmarshal([]byte(do("state", "test-tenant", "test-stream")), &st))
			require.Equal(t, "test-stream", st.Key)
			require.True(t, st.IsArchived)
			require.Equal(t, int64(2), st.Version)

			var evs struct {
				Events []struct {
					Sequence int64           `json:"sequence"`
					Data     json.RawMessage `json:"data_json"`
					Archived bool            `json:"archived"`
				} `json:"events"`
			}
			require.NoError(t, json.Unmarshal([]byte(do("events", "test-tenant", "test-stream")), &evs))
			require.Len(t, evs.Events, 2)
			require.Equal(t, "1", string(evs.Events[0].Data))
			require.True(t, evs.Events[1].Archived)

			require.Contains(t, do("scan", "test-tenant", "--partition", "archived"), `"sequence": 2`)
			require.Contains(t, do("tenants"), "test-tenant")
			require.Contains(t, do("verify", "test-tenant", "test-stream"), "ok")
			require.Contains(t, do("verify"), `"Streams": 1`)
		})
	}
}

func TestCLIErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "state", "t", "missing")
	require.ErrorIs(t, err, eventstore.ErrNotFound)

	_, err = run(t, dir, "archive", "t", "missing")
	require.ErrorIs(t, err, eventstore.ErrNotFound)

	_, err = run(t, dir, "append", "t", "s", "--data", "1")
	require.NoError(t, err)
	_, err = run(t, dir, "append", "t", "s", "--data", "2", "--expected-version", "0")
	require.True(t, errors.Is(err, eventstore.ErrConcurrencyConflict), "got %v", err)

	_, err = run(t, dir, "scan", "t", "--partition", "hot")
	require.Error(t, err)

	_, err = run(t, dir, "verify", "only-tenant")
	require.Error(t, err)

	_, err = run(t, dir, "state", "t", "s", "--driver", "mysql")
	require.Error(t, err)
}

func TestDecodedData(t *testing.T) {
	require.Contains(t, decodedData([]byte(`{"a":1}`)), "data_json")
	require.Contains(t, decodedData([]byte(`hello`)), "data_text")
	require.Contains(t, decodedData([]byte{0xff, 0xfe}), "data_b64")
}
