package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/anchorgate/internal/control"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe [anchor...]",
	Short: "Probe anchors once and print their latency",
	Run:   runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "overall probe timeout")
	rootCmd.AddCommand(probeCmd)
}

type probeRow struct {
	anchor  string
	latency time.Duration
	err     error
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	app, err := control.NewGateway(ctx, control.ConfigFrom(cfg))
	if err != nil {
		slog.Error("Failed to initialize gateway", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	anchors := args
	if len(anchors) == 0 {
		anchors = app.Anchors()
	}

	rows := make([]probeRow, len(anchors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range anchors {
		g.Go(func() error {
			latency, err := app.Probe(gctx, name)
			rows[i] = probeRow{anchor: name, latency: latency, err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ANCHOR\tSTATUS\tLATENCY\tERROR")
	for _, r := range rows {
		status, msg := "ok", ""
		if r.err != nil {
			status, msg = "failed", r.err.Error()
			failed++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.anchor, status, r.latency.Round(time.Millisecond), msg)
	}
	_ = w.Flush()

	if failed > 0 {
		os.Exit(1)
	}
}
