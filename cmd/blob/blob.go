package blob

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpin/internal/blobstore"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/observability"
)

// Command returns the blob command group. Reference images are uploaded
// here so that the image loader finds them under the blob base URL.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Upload and delete media in the configured blob store",
	}
	cmd.AddCommand(putCommand(settings), deleteCommand(settings))
	return cmd
}

func open(cmd *cobra.Command, settings *conf.Settings) (*blobstore.Metered, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	return blobstore.New(cmd.Context(), &settings.BlobStore, m.Blob, logger.Global().Module("cli"))
}

func putCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "put <category> <file>",
		Short: "Upload a file and print its URL",
		Long: fmt.Sprintf(`Upload a file. Category is one of %s, %s or %s.
A reference image must be named after its container, e.g. pump-a.png.`,
			blobstore.CategoryAnnotationMedia, blobstore.CategoryProcedureMedia, blobstore.CategoryReferenceImages),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !blobstore.ValidCategory(args[0]) {
				return fmt.Errorf("unknown blob category %q", args[0])
			}
			store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			url, err := store.Put(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <url>",
		Short: "Delete a blob by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd, settings)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blob deleted: %s\n", args[0])
			return nil
		},
	}
}
