package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newActionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions [kind]",
		Short: "List registered entity kinds and their custom actions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			kinds := a.dispatcher.Kinds()
			if len(args) == 1 {
				kinds = []string{args[0]}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tACTIONS")
			for _, kind := range kinds {
				names, err := a.dispatcher.ActionNames(kind)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintf(w, "%s\t(none)\n", kind)
					continue
				}
				for i, name := range names {
					if i == 0 {
						fmt.Fprintf(w, "%s\t%s\n", kind, name)
					} else {
						fmt.Fprintf(w, "\t%s\n", name)
					}
				}
			}
			return w.Flush()
		},
	}

	return cmd
}
