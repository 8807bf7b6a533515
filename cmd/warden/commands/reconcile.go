package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudwarden/cloudwarden/pkg/catalog"
	"github.com/cloudwarden/cloudwarden/pkg/entity"
)

func newReconcileCommand() *cobra.Command {
	var (
		skipReadiness bool
		kindFilter    string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile every catalog entity to its desired state",
		Long: `Reconcile walks the catalog and drives each entity through
create-or-adopt, then polls readiness on the entity's declared schedule
until the resource converges or the attempt budget runs out.

State is persisted after every operation, so an interrupted reconcile
resumes cleanly on the next run.`,
		Example: `  # Reconcile the full catalog
  warden reconcile

  # Reconcile databases only, skip readiness polling
  warden reconcile --kind database --skip-readiness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cat, err := a.loadCatalog(ctx)
			if err != nil {
				return err
			}

			return reconcileCatalog(ctx, a, cat, kindFilter, skipReadiness)
		},
	}

	cmd.Flags().BoolVar(&skipReadiness, "skip-readiness", false, "do not wait for resources to become ready")
	cmd.Flags().StringVar(&kindFilter, "kind", "", "reconcile only entities of this kind")

	return cmd
}

// reconcileCatalog converges every definition in the catalog. The first
// failure aborts the run; partial progress is already persisted.
func reconcileCatalog(ctx context.Context, a *app, cat *catalog.Catalog, kindFilter string, skipReadiness bool) error {
	for _, def := range cat.All() {
		if kindFilter != "" && def.Kind != kindFilter {
			continue
		}
		if err := reconcileOne(ctx, a, def, skipReadiness); err != nil {
			return fmt.Errorf("reconcile %s/%s: %w", def.Kind, def.Name, err)
		}
		fmt.Printf("%s/%s: converged\n", def.Kind, def.Name)
	}
	return nil
}

// reconcileOne drives one definition: create or adopt first, then update to
// converge changed fields, then poll readiness.
func reconcileOne(ctx context.Context, a *app, def *entity.Definition, skipReadiness bool) error {
	st, err := a.loadState(ctx, def.Kind, def.Name)
	if err != nil {
		return err
	}

	op := entity.OpCreate
	if st.HasIdentifier() {
		op = entity.OpUpdate
	}
	if err := a.runOperation(ctx, op, def, st); err != nil {
		return err
	}

	if skipReadiness {
		return nil
	}

	e, err := a.dispatcher.Get(def.Kind)
	if err != nil {
		return err
	}
	poller := entity.NewPoller(e.Readiness(), a.tel.Logger)
	return poller.Run(ctx, func(ctx context.Context) (bool, error) {
		err := a.runOperation(ctx, entity.OpCheckReadiness, def, st)
		if entity.IsNotReady(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
}
