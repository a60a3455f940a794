package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/queue"
)

func newQueueCmd(deps *lazyApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the batch reading queue",
	}

	cmd.AddCommand(
		newQueueAddCmd(deps),
		newQueueListCmd(deps),
		newQueueProcessCmd(deps),
		newQueueStatsCmd(deps),
	)

	return cmd
}

func newQueueAddCmd(deps *lazyApp) *cobra.Command {
	var order orderFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue an order for later processing",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			req, err := order.request(cmd.InOrStdin())
			if err != nil {
				return err
			}
			item, err := a.queue.Add(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ Queued "+item.ID))
			return nil
		}),
	}

	order.bind(cmd)
	return cmd
}

func newQueueListCmd(deps *lazyApp) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and recently finished items",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			pending, err := a.queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			done, err := a.queue.Completed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string][]queue.Item{"pending": pending, "finished": done})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Pending (%d)", len(pending))))
			renderQueueItems(out, pending)
			fmt.Fprintln(out)
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Finished (%d)", len(done))))
			renderQueueItems(out, done)
			return nil
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of finished items to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newQueueProcessCmd(deps *lazyApp) *cobra.Command {
	var (
		outDir      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run every pending item through the reading cycle",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Queue.Concurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var mu sync.Mutex
			errOut := cmd.ErrOrStderr()
			worker := queue.NewWorker(a.queue, orch, concurrency).
				OnProgress(func(item *queue.Item, msg string) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(errOut, progressStyle.Render(fmt.Sprintf("[%s] %s", shortID(item.ID), msg)))
				}).
				OnResult(func(_ context.Context, item *queue.Item, res *model.CycleResult) error {
					path, err := saveReading(outDir, res)
					if err != nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(errOut, okStyle.Render(fmt.Sprintf("[%s] ✓ %s", shortID(item.ID), path)))
					return nil
				})

			started := time.Now()
			report, err := worker.Process(ctx)
			summary := fmt.Sprintf("Processed %d readings: %d completed, %d failed in %s",
				report.Completed+report.Failed, report.Completed, report.Failed, time.Since(started).Round(time.Second))
			fmt.Fprintln(cmd.OutOrStdout(), summaryStyle.Render(summary))
			return err
		}),
	}

	cmd.Flags().StringVar(&outDir, "out", "readings", "Directory reading files are written to")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Cycles run at once (default: QUEUE_CONCURRENCY)")
	return cmd
}

func newQueueStatsCmd(deps *lazyApp) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per status",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			st, err := a.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			field(out, "Pending", fmt.Sprintf("%d", st.Pending))
			field(out, "Processing", fmt.Sprintf("%d", st.Processing))
			field(out, "Completed", fmt.Sprintf("%d", st.Completed))
			field(out, "Failed", fmt.Sprintf("%d", st.Failed))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func renderQueueItems(w io.Writer, items []queue.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, summaryStyle.Render("  (none)"))
		return
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		detail := it.Filename
		if it.Status == queue.StatusFailed {
			detail = it.Error
		}
		rows = append(rows, []string{
			shortID(it.ID),
			string(it.Status),
			it.Request.Topic,
			it.AddedAt.Local().Format("Jan 02, 15:04"),
			detail,
		})
	}
	renderTable(w, []column{
		{title: "ID", width: 10},
		{title: "STATUS", width: 12},
		{title: "TOPIC", width: 18},
		{title: "ADDED", width: 15},
		{title: "DETAIL", width: 44},
	}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
