package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCELFilter(t *testing.T) {
	ev := Event{
		StreamKey: "order-1",
		Sequence:  3,
		Type:      "Paid",
		Data:      []byte(`{"amount":42,"currency":"EUR"}`),
		Metadata:  map[string]string{"source": "web"},
	}
	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`event_type == "Paid"`, true},
		{`event_type == "Created"`, false},
		{`json.amount > 40 && json.currency == "EUR"`, true},
		{`metadata.source == "web"`, true},
		{`sequence >= 4`, false},
		{`stream.startsWith("order-")`, true},
		{`json.missing == 1`, false},
		{`size`, false},
		{`event_type == "Paid" && ts_ms <= now_ms && text.contains("EUR") && size > 0`, true},
	}
	for _, tc := range cases {
		f, err := newCELFilter(tc.expr)
		require.NoError(t, err, tc.expr)
		require.Equal(t, tc.want, f.Eval(ev), tc.expr)
	}
}

func TestCELFilterInvalid(t *testing.T) {
	_, err := newCELFilter(`event_type ==`)
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestScanFilterPaginates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	sess := store.LightweightSession()
	acme := sess.ForTenant("acme")
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, acme.Append(key,
			NewEvent{Type: "Keep"}, NewEvent{Type: "Drop"}, NewEvent{Type: "Keep"}))
	}
	_, err := sess.Commit(ctx)
	require.NoError(t, err)

	var got []Event
	opts := ScanOptions{Limit: 2, Filter: `event_type == "Keep"`}
	for {
		page, err := store.ScanActive(ctx, "acme", opts)
		require.NoError(t, err)
		got = append(got, page.Events...)
		if page.Next == nil {
			break
		}
		opts.After = page.Next
	}
	require.Len(t, got, 6)
	for _, ev := range got {
		require.Equal(t, "Keep", ev.Type)
	}

	_, err = store.ScanActive(ctx, "acme", ScanOptions{Filter: "("})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{StreamKey: "order/1", Sequence: 7}
	got, err := ParseCursor(c.String())
	require.NoError(t, err)
	require.Equal(t, c, *got)

	got, err = ParseCursor("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = ParseCursor("!!")
	require.Error(t, err)
}
