package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oracle-engine/server/internal/agent/memory"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/parsers"
)

const dateLayout = "2006-01-02"

func newClientsCmd(deps *lazyApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clients",
		Aliases: []string{"client"},
		Short:   "Inspect and edit client memory",
	}

	cmd.AddCommand(
		newClientsListCmd(deps),
		newClientsShowCmd(deps),
		newClientsDeleteCmd(deps),
		newClientsImportCmd(deps),
	)

	return cmd
}

func newClientsListCmd(deps *lazyApp) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every client with their session count",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			clients, err := a.memory.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), clients)
			}
			out := cmd.OutOrStdout()
			if len(clients) == 0 {
				fmt.Fprintln(out, summaryStyle.Render("No clients stored yet"))
				return nil
			}
			rows := make([][]string, 0, len(clients))
			total := 0
			for _, c := range clients {
				rows = append(rows, []string{c.Key, c.ClientName, fmt.Sprintf("%d", c.SessionCount)})
				total += c.SessionCount
			}
			renderTable(out, []column{
				{title: "KEY", width: 34},
				{title: "NAME", width: 24},
				{title: "SESSIONS", width: 10, numeric: true},
			}, rows)
			fmt.Fprintln(out)
			fmt.Fprintln(out, summaryStyle.Render(fmt.Sprintf("Total: %d clients, %d sessions", len(clients), total)))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newClientsShowCmd(deps *lazyApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print the memory context the writer would receive for a client",
		Args:  cobra.ExactArgs(1),
		RunE: deps.runE(func(cmd *cobra.Command, args []string, a *app) error {
			mgr := a.memoryManager()
			rec, err := mgr.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (%d sessions)", rec.ClientName, len(rec.Sessions))))
			fmt.Fprintln(out, mgr.FormatContext(rec))
			return nil
		}),
	}
	return cmd
}

func newClientsDeleteCmd(deps *lazyApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a client and their whole history",
		Args:  cobra.ExactArgs(1),
		RunE: deps.runE(func(cmd *cobra.Command, args []string, a *app) error {
			removed, err := a.memory.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("client %q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ Deleted "+args[0]))
			return nil
		}),
	}
	return cmd
}

// importFlags describe one past session entered by hand.
type importFlags struct {
	email      string
	name       string
	topic      string
	prediction string
	hook       string
	mood       string
	summary    string
	date       string
}

func (f importFlags) session(loc *time.Location, now time.Time) (model.Session, error) {
	if strings.TrimSpace(f.prediction) == "" && strings.TrimSpace(f.summary) == "" {
		return model.Session{}, errors.New("--prediction or --summary is required")
	}
	at := now
	if f.date != "" {
		d, err := time.ParseInLocation(dateLayout, f.date, loc)
		if err != nil {
			return model.Session{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD", f.date)
		}
		at = d
	}
	topic := strings.TrimSpace(f.topic)
	if topic == "" {
		topic = parsers.DefaultTopic
	}
	return model.Session{
		Timestamp:      at,
		Topic:          topic,
		KeyPrediction:  strings.TrimSpace(f.prediction),
		HookLeft:       strings.TrimSpace(f.hook),
		ClientMood:     strings.TrimSpace(f.mood),
		ReadingSummary: strings.TrimSpace(f.summary),
	}, nil
}

func newClientsImportCmd(deps *lazyApp) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add a past session to a client's history, creating the client if needed",
		Args:  cobra.NoArgs,
		RunE: deps.runE(func(cmd *cobra.Command, _ []string, a *app) error {
			if strings.TrimSpace(f.email) == "" && memory.SanitizeName(f.name) == "" {
				return errors.New("--email or --name is required")
			}
			session, err := f.session(a.cfg.Location(), time.Now())
			if err != nil {
				return err
			}
			key := memory.Key(f.email, f.name)
			name := strings.TrimSpace(f.name)
			if err := a.memoryManager().AppendSession(cmd.Context(), key, name, session); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("✓ Imported %s session for %s", session.Topic, key)))
			return nil
		}),
	}

	cmd.Flags().StringVar(&f.email, "email", "", "Client email (memory key)")
	cmd.Flags().StringVar(&f.name, "name", "", "Client display name")
	cmd.Flags().StringVar(&f.topic, "topic", "", "Topic of the past reading")
	cmd.Flags().StringVar(&f.prediction, "prediction", "", "Key prediction made in that reading")
	cmd.Flags().StringVar(&f.hook, "hook", "", "Open thread left for the next reading")
	cmd.Flags().StringVar(&f.mood, "mood", "", "Client mood at the time")
	cmd.Flags().StringVar(&f.summary, "summary", "", "Short summary of the reading")
	cmd.Flags().StringVar(&f.date, "date", "", "Date of the reading, YYYY-MM-DD (default: now)")

	return cmd
}
