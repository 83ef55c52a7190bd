package main

import (
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore/driver"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/go-kratos/kratos/v2/encoding"
	"github.com/go-kratos/kratos/v2/encoding/json"
	"github.com/spf13/cobra"
)

func newReconcileCmd(env *cliEnv) *cobra.Command {
	var opts services.ReconcileOptions

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare active catalog records with the object store",
		Long: `Scan active media files and HEAD each object.

Records whose object is missing are reported but never deactivated.
With --refresh, drifted cached metadata is overwritten with the observed values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := env.context(cmd)
			bc := env.bundle.Bootstrap

			pool, cleanupPool, err := database.NewPgxPool(ctx, bc.Data.Postgres, env.logger)
			if err != nil {
				return err
			}
			defer cleanupPool()
			store, cleanupStore, err := driver.New(ctx, bc.Storage, env.logger)
			if err != nil {
				return err
			}
			defer cleanupStore()

			repo := repositories.NewMediaFileRepository(pool, env.logger)
			svc := services.NewReconcileService(repo, store, services.NewMetrics(env.logger), bc.Storage, env.logger)
			report, err := svc.Reconcile(ctx, opts)
			if err != nil {
				return err
			}

			out, err := encoding.GetCodec(json.Name).Marshal(report)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Bucket, "bucket", "", "only scan this bucket (default: all buckets)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "records per catalog page (default 200, max 1000)")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "overwrite drifted cached metadata with observed values")
	return cmd
}
