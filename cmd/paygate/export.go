package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paygate/svc/ledger"
)

func newExportLedgerCmd(load func() (appConfig, error)) *cobra.Command {
	var (
		since  string
		output string
		batch  int
	)
	cmd := &cobra.Command{
		Use:   "export-ledger",
		Short: "Write payment records as JSON lines",
		Example: `  paygate export-ledger --since 2026-01-01 > payments.jsonl
  paygate export-ledger --since 2026-03-01T00:00:00Z --output march.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseSince(since)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, cursor, err := ledger.Export(cmd.Context(), a.store, w, from, batch)
			if err != nil {
				return err
			}
			a.log.InfoContext(cmd.Context(), "ledger exported",
				slog.Int("records", n),
				slog.Time("last_created_at", cursor.CreatedAt),
				slog.String("last_id", cursor.ID.String()))
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "export records created at or after this date (YYYY-MM-DD) or RFC 3339 time")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().IntVar(&batch, "batch", 500, "records fetched per query")
	return cmd
}

// parseSince accepts a date, an RFC 3339 time or an empty string for the
// beginning of the ledger.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --since must be YYYY-MM-DD or RFC 3339, got %q", errInvalidConfig, s)
	}
	return t, nil
}
