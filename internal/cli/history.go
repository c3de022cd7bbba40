package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/anchorgate/internal/infra/storage/postgres"
)

var (
	historyAnchor string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded anchor calls",
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyAnchor, "anchor", "", "only show calls to this anchor")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of calls to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("database.url is not set, call history is only kept in memory")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	repo := postgres.NewHistoryRepo(db)

	counts, err := repo.CountByOutcome(ctx, historyAnchor)
	if err != nil {
		slog.Error("Failed to count calls", "error", err)
		os.Exit(1)
	}
	records, err := repo.Recent(ctx, historyAnchor, historyLimit)
	if err != nil {
		slog.Error("Failed to query call history", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "OUTCOME\tCALLS")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c.Outcome, c.Count)
	}
	_ = w.Flush()
	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPLETED\tANCHOR\tOPERATION\tOUTCOME\tATTEMPTS\tDELAY\tDURATION\tERROR")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.CompletedAt.Format(time.RFC3339),
			r.Anchor,
			r.Operation,
			r.Outcome,
			r.Attempts,
			time.Duration(r.TotalDelayMs)*time.Millisecond,
			r.Duration().Round(time.Millisecond),
			r.ErrorMessage,
		)
	}
	_ = w.Flush()
}
