package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInvokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <operation> <kind> <name>",
		Short: "Run one lifecycle operation against one entity",
		Long: `Run a single named operation against one catalog entity.

Standard operations are create, update, delete, and check-readiness.
Anything else is dispatched to the entity's custom action registry.
The updated state is persisted before the command exits, so a repeat
invocation resumes exactly where this one left off.`,
		Example: `  # Create (or adopt) a database
  warden invoke create database orders-db

  # Poll readiness once
  warden invoke check-readiness database orders-db

  # Trigger a custom action
  warden invoke create-snapshot database orders-db`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, kind, name := args[0], args[1], args[2]
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
			def, ok := cat.Get(kind, name)
			if !ok {
				return fmt.Errorf("no definition %s/%s in catalog", kind, name)
			}

			st, err := a.loadState(ctx, kind, name)
			if err != nil {
				return err
			}

			if err := a.runOperation(ctx, op, def, st); err != nil {
				return err
			}

			fmt.Printf("%s %s/%s: ok\n", op, kind, name)
			return nil
		},
	}

	return cmd
}
