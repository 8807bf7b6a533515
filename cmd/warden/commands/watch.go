package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudwarden/cloudwarden/pkg/catalog"
)

func newWatchCommand() *cobra.Command {
	var skipReadiness bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch catalog files and reconcile on change",
		Long: `Watch reconciles the catalog once, then keeps running: every
catalog file change triggers a fresh reconcile of the full catalog.
When metrics are enabled the Prometheus endpoint stays up for the
lifetime of the watch.`,
		Example: `  warden watch
  warden watch --skip-readiness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.cfg.Telemetry.Metrics.Enabled {
				go func() {
					if err := a.tel.Metrics.Serve(); err != nil {
						a.tel.Logger.WithError(err).Error("Metrics endpoint failed")
					}
				}()
			}

			cat, err := a.loadCatalog(ctx)
			if err != nil {
				return err
			}
			if err := reconcileCatalog(ctx, a, cat, "", skipReadiness); err != nil {
				a.tel.Logger.WithError(err).Error("Initial reconcile failed")
			}

			err = a.loader.Watch(ctx, a.cfg.Catalog.Paths, func(cat *catalog.Catalog) error {
				return reconcileCatalog(ctx, a, cat, "", skipReadiness)
			})
			if err != nil {
				return err
			}
			defer func() { _ = a.loader.StopWatching() }()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipReadiness, "skip-readiness", false, "do not wait for resources to become ready")

	return cmd
}
