package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oracle-engine/server/internal/agent/cycle"
	"github.com/oracle-engine/server/internal/agent/model"
)

// orderFlags are the request flags shared by run and queue add.
type orderFlags struct {
	order     string
	orderFile string
	topic     string
	email     string
	length    int
}

func (f *orderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.order, "order", "", "Order text as written by the client")
	cmd.Flags().StringVar(&f.orderFile, "order-file", "", "Read the order text from a file (- for stdin)")
	cmd.Flags().StringVar(&f.topic, "topic", "", "Reading topic (default: General)")
	cmd.Flags().StringVar(&f.email, "email", "", "Client email, used as the memory key when set")
	cmd.Flags().IntVar(&f.length, "length", 0, "Target reading length in characters (default: CYCLE_DEFAULT_TARGET_LENGTH)")
	cmd.MarkFlagsMutuallyExclusive("order", "order-file")
}

func (f *orderFlags) request(stdin io.Reader) (model.ReadingRequest, error) {
	text := f.order
	if f.orderFile != "" {
		var (
			raw []byte
			err error
		)
		if f.orderFile == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(f.orderFile)
		}
		if err != nil {
			return model.ReadingRequest{}, fmt.Errorf("read order: %w", err)
		}
		text = string(raw)
	}
	if strings.TrimSpace(text) == "" {
		return model.ReadingRequest{}, errors.New("order text is required (--order or --order-file)")
	}
	if f.length < 0 {
		return model.ReadingRequest{}, errors.New("--length must not be negative")
	}
	return model.ReadingRequest{
		OrderText:    text,
		Topic:        f.topic,
		ClientEmail:  f.email,
		TargetLength: f.length,
	}, nil
}

func newRunCmd(deps *lazyApp) *cobra.Command {
	var (
		order  orderFlags
		outDir string
		stream bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reading cycle and save the approved reading",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			req, err := order.request(cmd.InOrStdin())
			if err != nil {
				return err
			}
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			errOut := cmd.ErrOrStderr()
			progress := func(msg string) {
				fmt.Fprintln(errOut, progressStyle.Render("• "+msg))
			}
			var onChunk model.ChunkFunc
			if stream && !asJSON {
				onChunk = func(chunk string) {
					fmt.Fprint(cmd.OutOrStdout(), chunk)
				}
			}

			res, err := orch.Run(ctx, req, progress, onChunk)
			if err != nil {
				var ce *cycle.CycleError
				if errors.As(err, &ce) {
					fmt.Fprintln(errOut, errorStyle.Render(fmt.Sprintf("Cycle aborted during %s", ce.Stage)))
					printUsageRecord(errOut, ce.Usage)
				}
				return err
			}

			path, err := saveReading(outDir, res)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					*model.CycleResult
					Path string `json:"path"`
				}{res, path})
			}
			if stream {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			printResult(cmd.OutOrStdout(), res, path)
			return nil
		}),
	}

	order.bind(cmd)
	cmd.Flags().StringVar(&outDir, "out", "readings", "Directory the reading file is written to")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the draft as it is generated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func printResult(w io.Writer, res *model.CycleResult, path string) {
	fmt.Fprintln(w, titleStyle.Render("Reading approved"))
	field(w, "Client", res.ClientName)
	field(w, "Memory key", res.MemoryKey)
	field(w, "Saved to", okStyle.Render(path))
	printUsageRecord(w, res.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Delivery message"))
	fmt.Fprintln(w, valueStyle.Render(res.DeliveryMessage))
}

func printUsageRecord(w io.Writer, u model.UsageRecord) {
	field(w, "QC rounds", fmt.Sprintf("%d", u.QCRounds))
	field(w, "API calls", fmt.Sprintf("%d", u.APICalls))
	field(w, "Tokens", fmt.Sprintf("%d in / %d out", u.TokensIn, u.TokensOut))
	field(w, "Cost", fmt.Sprintf("$%.4f", u.CostUSD))
}
