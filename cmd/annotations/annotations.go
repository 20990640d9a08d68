package annotations

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/annotations"
	"github.com/tphakala/fieldpin/internal/app"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
)

// Command returns the annotations command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "List, create and delete annotations of a container",
	}
	cmd.AddCommand(listCommand(settings), createCommand(settings), deleteCommand(settings))
	return cmd
}

func open(cmd *cobra.Command, settings *conf.Settings) (*app.Services, *annotations.Store, error) {
	svc, err := app.Open(cmd.Context(), settings, logger.Global().Module("app"))
	if err != nil {
		return nil, nil, err
	}
	return svc, annotations.New(svc.Docs, svc.Blobs, nil, logger.Global().Module("cli"), svc.Metrics.Sync), nil
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list <container>",
		Short: "List the annotations of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			list, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tPOSITION\tTEXT")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.CategoryName, a.Position, a.Text)
			}
			return w.Flush()
		},
	}
}

func createCommand(settings *conf.Settings) *cobra.Command {
	var (
		category string
		pos      []float64
	)
	cmd := &cobra.Command{
		Use:   "create <container> <text>",
		Short: "Create an annotation at an anchor-local position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(pos) != 3 {
				return fmt.Errorf("--position needs three values, got %d", len(pos))
			}
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			a := model.Annotation{
				ID:            uuid.NewString(),
				ContainerName: args[0],
				CategoryName:  category,
				Text:          args[1],
				Position:      geom.Vec3{X: pos[0], Y: pos[1], Z: pos[2]},
			}
			if err := store.Create(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Annotation created: id=%s container=%s\n", a.ID, a.ContainerName)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category name")
	cmd.Flags().Float64SliceVar(&pos, "position", []float64{0, 0, 0}, "Anchor-local position x,y,z in meters")
	return cmd
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an annotation with its detailed info and media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Annotation deleted: id=%s\n", args[0])
			return nil
		},
	}
}
