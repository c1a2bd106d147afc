package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/runtime"
)

func newAppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append TENANT STREAM",
		Short: "Append events to a stream in one commit",
		Example: `  evstore append acme orders-1 --type int --data 1 --data 2
  evstore append acme orders-1 --type placed --data '{"total":10}' --expected-version 0 --archive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, stream := args[0], args[1]
			eventType, _ := cmd.Flags().GetString("type")
			data, _ := cmd.Flags().GetStringArray("data")
			meta, _ := cmd.Flags().GetStringToString("meta")
			expected, _ := cmd.Flags().GetInt64("expected-version")
			archive, _ := cmd.Flags().GetBool("archive")

			events := make([]eventstore.NewEvent, 0, len(data))
			for _, d := range data {
				events = append(events, eventstore.NewEvent{Type: eventType, Data: []byte(d), Metadata: meta})
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				sess := rt.Store().LightweightSession()
				ts := sess.ForTenant(tenantID)
				if err := ts.AppendExpected(stream, eventstore.ExpectedVersion(expected), events...); err != nil {
					return err
				}
				if archive {
					if err := ts.Archive(stream); err != nil {
						return err
					}
				}
				res, err := sess.Commit(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{"events": renderEvents(res.Appended)}
				if st, ok := res.State(eventstore.StreamID{TenantID: tenantID, Key: stream}); ok {
					out["state"] = st
				}
				return printJSON(cmd, out)
			})
		},
	}
	cmd.Flags().String("type", "event", "Event type")
	cmd.Flags().StringArray("data", nil, "Event body; repeat for several events")
	cmd.Flags().StringToString("meta", nil, "Event metadata key=value pairs")
	cmd.Flags().Int64("expected-version", int64(eventstore.AnyVersion), "Expected stream version (-1 any, 0 new stream)")
	cmd.Flags().Bool("archive", false, "Archive the stream in the same commit")
	return cmd
}

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive TENANT STREAM",
		Short: "Move a stream to the archived partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, stream := args[0], args[1]
			expected, _ := cmd.Flags().GetInt64("expected-version")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				sess := rt.Store().LightweightSession()
				if err := sess.ForTenant(tenantID).ArchiveExpected(stream, eventstore.ExpectedVersion(expected)); err != nil {
					return err
				}
				if _, err := sess.Commit(ctx); err != nil {
					return err
				}
				st, err := rt.Store().FetchStreamState(ctx, tenantID, stream)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
	cmd.Flags().Int64("expected-version", int64(eventstore.AnyVersion), "Expected stream version (-1 any)")
	return cmd
}

func newStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state TENANT STREAM",
		Short: "Show a stream's committed state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				st, err := rt.Store().FetchStreamState(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if st == nil {
					return fmt.Errorf("%s/%s: %w", args[0], args[1], eventstore.ErrNotFound)
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events TENANT STREAM",
		Short: "Read a stream's events in sequence order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				events, err := rt.Store().FetchStream(ctx, args[0], args[1], eventstore.ReadOptions{FromSequence: from, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"events": renderEvents(events)})
			})
		},
	}
	cmd.Flags().Int64("from", 0, "First sequence to return")
	cmd.Flags().Int("limit", 0, "Maximum number of events (0 = all)")
	return cmd
}

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan TENANT",
		Short: "Page through a tenant's active or archived partition",
		Example: `  evstore scan acme --partition archived --limit 100
  evstore scan acme --filter 'event_type == "placed" && json.total > 5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partition, _ := cmd.Flags().GetString("partition")
			cursor, _ := cmd.Flags().GetString("cursor")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")
			p, err := eventstore.ParsePartition(partition)
			if err != nil {
				return err
			}
			after, err := eventstore.ParseCursor(cursor)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				page, err := rt.Store().Scan(ctx, args[0], p, eventstore.ScanOptions{After: after, Limit: limit, Filter: filter})
				if err != nil {
					return err
				}
				out := map[string]any{"events": renderEvents(page.Events)}
				if page.Next != nil {
					out["next"] = page.Next.String()
				}
				return printJSON(cmd, out)
			})
		},
	}
	cmd.Flags().String("partition", "active", "Partition: active|archived")
	cmd.Flags().String("cursor", "", "Resume token from a previous page")
	cmd.Flags().Int("limit", eventstore.DefaultScanLimit, "Page size")
	cmd.Flags().String("filter", "", "CEL filter over event fields")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [TENANT STREAM]",
		Short: "Check that events live in the partition their stream points to",
		Long:  "With a tenant and stream, verifies that stream. Without arguments, audits every stream of every tenant.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.New("expected no arguments or TENANT STREAM")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				if len(args) == 2 {
					if err := rt.Store().VerifyStream(ctx, args[0], args[1]); err != nil {
						return err
					}
					return printJSON(cmd, map[string]string{"status": "ok"})
				}
				auditor, err := rt.NewAuditor()
				if err != nil {
					return err
				}
				rep, err := auditor.RunOnce(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, rep); err != nil {
					return err
				}
				if len(rep.Violations) > 0 {
					return fmt.Errorf("%d streams failed verification: %w", len(rep.Violations), eventstore.ErrPartialCommit)
				}
				return nil
			})
		},
	}
}

func newTenantsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List tenants with at least one stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				list, err := rt.Store().Tenants(ctx)
				if err != nil {
					return err
				}
				if list == nil {
					list = []string{}
				}
				return printJSON(cmd, map[string]any{"tenants": list})
			})
		},
	}
}
