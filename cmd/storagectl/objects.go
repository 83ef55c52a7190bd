package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore/driver"

	"github.com/spf13/cobra"
)

func newObjectsCmd(env *cliEnv) *cobra.Command {
	objectsCmd := &cobra.Command{
		Use:   "objects",
		Short: "Manage objects directly in the object store",
		Long: `Manage objects directly in the object store.

Catalog records are not touched; use this to clean up orphans reported by
a failed upload batch.

Examples:
  # Delete two orphaned objects from the default bucket
  storagectl objects delete vehicles/1/a.jpg vehicles/1/b.jpg`,
	}

	var bucket string
	deleteCmd := &cobra.Command{
		Use:     "delete <key>...",
		Aliases: []string{"rm"},
		Short:   "Delete objects by key",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := env.context(cmd)
			store, cleanup, err := driver.New(ctx, env.bundle.Bootstrap.Storage, env.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			refs := make([]objectstore.ObjectRef, len(args))
			for i, key := range args {
				refs[i] = objectstore.ObjectRef{Key: key}
			}
			result, err := store.DeleteObjects(ctx, bucket, refs)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "KEY\tRESULT")
			for _, ref := range result.Deleted {
				_, _ = fmt.Fprintf(w, "%s\tdeleted\n", ref.Key)
			}
			for _, failed := range result.Errors {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", failed.Key, failed.Message)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d of %d objects could not be deleted", len(result.Errors), len(refs))
			}
			return nil
		},
	}
	deleteCmd.Flags().StringVar(&bucket, "bucket", "", "bucket name (default: storage.default_bucket)")
	objectsCmd.AddCommand(deleteCmd)
	return objectsCmd
}
