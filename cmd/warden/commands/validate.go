package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and catalog files",
		Long: `Validate loads the warden configuration and every catalog file,
checking definitions for missing required fields, duplicate kind/name
pairs, and kinds with no registered entity. Nothing is sent to the
provider.`,
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

			var unknown int
			for _, def := range cat.All() {
				if _, err := a.dispatcher.Get(def.Kind); err != nil {
					fmt.Printf("%s/%s: unknown kind %q\n", def.Kind, def.Name, def.Kind)
					unknown++
				}
			}
			if unknown > 0 {
				return fmt.Errorf("%d definition(s) reference unregistered kinds", unknown)
			}

			fmt.Printf("configuration and %d definition(s) valid\n", cat.Len())
			return nil
		},
	}

	return cmd
}
