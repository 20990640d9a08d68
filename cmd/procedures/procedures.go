package procedures

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/app"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
	"github.com/tphakala/fieldpin/internal/procedures"
)

// Command returns the procedures command group.
func Command(settings *conf.Settings) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "procedures",
		Short: "Manage the procedures of a container",
	}
	cmd.PersistentFlags().StringVar(&kind, "kind", string(model.KindManual), "Procedure kind: manual|ai")
	cmd.AddCommand(listCommand(settings, &kind), deleteCommand(settings, &kind), generateCommand(settings))
	return cmd
}

func open(cmd *cobra.Command, settings *conf.Settings) (*app.Services, *procedures.Store, error) {
	svc, err := app.Open(cmd.Context(), settings, logger.Global().Module("app"))
	if err != nil {
		return nil, nil, err
	}
	return svc, procedures.New(svc.Docs, svc.Blobs, nil, logger.Global().Module("cli"), svc.Metrics.Sync), nil
}

func listCommand(settings *conf.Settings, kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <container>",
		Short: "List procedures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			list, err := store.List(cmd.Context(), model.ProcedureKind(*kind), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tPINNED\tCREATED")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Name, len(p.Steps),
					len(procedures.Pins(p)), p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func deleteCommand(settings *conf.Settings, kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a procedure and its step media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := store.Delete(cmd.Context(), model.ProcedureKind(*kind), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Procedure deleted: id=%s kind=%s\n", args[0], *kind)
			return nil
		},
	}
}

func generateCommand(settings *conf.Settings) *cobra.Command {
	var (
		transcriptFile string
		save           bool
	)
	cmd := &cobra.Command{
		Use:   "generate <container> [transcript]",
		Short: "Draft a procedure from a spoken walkthrough transcript",
		Long: `Draft a procedure with the text service. The transcript is read from the
argument or from --file. With --save the draft is stored as an AI procedure.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := readTranscript(args, transcriptFile)
			if err != nil {
				return err
			}
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()
			if svc.Text == nil {
				return fmt.Errorf("text service is disabled, set textservice.enabled in the config")
			}

			draft, err := svc.Text.DraftProcedure(cmd.Context(), args[0], transcript)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", draft.Name)
			for i, step := range draft.Steps {
				fmt.Fprintf(out, "%3d. %s\n", i+1, step.Description)
			}
			if !save {
				return nil
			}
			saved, err := store.Save(cmd.Context(), draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Procedure saved: id=%s kind=%s\n", saved.ID, saved.Kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&transcriptFile, "file", "", "Read the transcript from a file")
	cmd.Flags().BoolVar(&save, "save", false, "Store the draft as an AI procedure")
	return cmd
}

func readTranscript(args []string, file string) (string, error) {
	switch {
	case len(args) == 2 && file != "":
		return "", fmt.Errorf("give the transcript as an argument or with --file, not both")
	case len(args) == 2:
		return args[1], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading transcript: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("a transcript is required")
	}
}
