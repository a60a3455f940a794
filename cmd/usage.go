package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oracle-engine/server/internal/agent/model"
)

func newUsageCmd(deps *lazyApp) *cobra.Command {
	var (
		from   string
		to     string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Sum token usage and cost of completed cycles",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			filter, err := usageFilter(from, to, a.cfg.Location())
			if err != nil {
				return err
			}
			totals, err := a.usage.Aggregate(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), totals)
			}
			printTotals(cmd, totals, from, to)
			return nil
		}),
	}

	cmd.Flags().StringVar(&from, "from", "", "First day included, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last day included, YYYY-MM-DD")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

// usageFilter turns inclusive calendar days into a half-open time range.
func usageFilter(from, to string, loc *time.Location) (model.UsageFilter, error) {
	var f model.UsageFilter
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --from %q, want YYYY-MM-DD", from)
		}
		f.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --to %q, want YYYY-MM-DD", to)
		}
		f.To = t.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return f, nil
}

func printTotals(cmd *cobra.Command, t model.UsageTotals, from, to string) {
	out := cmd.OutOrStdout()
	period := "all time"
	switch {
	case from != "" && to != "":
		period = from + " → " + to
	case from != "":
		period = "since " + from
	case to != "":
		period = "until " + to
	}
	fmt.Fprintln(out, titleStyle.Render("Usage, "+period))
	field(out, "Cycles", fmt.Sprintf("%d", t.Cycles))
	field(out, "API calls", fmt.Sprintf("%d", t.APICalls))
	field(out, "QC rounds", fmt.Sprintf("%d", t.QCRounds))
	field(out, "Tokens in", fmt.Sprintf("%d", t.TokensIn))
	field(out, "Tokens out", fmt.Sprintf("%d", t.TokensOut))
	field(out, "Total tokens", fmt.Sprintf("%d", t.TotalTokens))
	field(out, "Cost", fmt.Sprintf("$%.4f", t.CostUSD))
	if t.Cycles > 0 {
		fmt.Fprintln(out, summaryStyle.Render(fmt.Sprintf("Average $%.4f per cycle", t.CostUSD/float64(t.Cycles))))
	}
}
