package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage persisted entity state",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateHistoryCommand())
	cmd.AddCommand(newStateForgetCommand())

	return cmd
}

func newStateListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted entity states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			records, err := a.store.ListStates(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Kind, r.Name, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of records")

	return cmd
}

func newStateShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <kind> <name>",
		Short: "Show the persisted state document for one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			record, err := a.store.GetState(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			// Pretty-print the document regardless of how it was stored.
			var doc any
			if err := json.Unmarshal([]byte(record.Document), &doc); err != nil {
				fmt.Println(record.Document)
				return nil
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	return cmd
}

func newStateHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [kind [name]]",
		Short: "Show the invocation audit trail",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var kind, name *string
			if len(args) > 0 {
				kind = &args[0]
			}
			if len(args) > 1 {
				name = &args[1]
			}

			records, err := a.store.ListInvocations(ctx, kind, name, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tNAME\tOPERATION\tOUTCOME\tDURATION")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\n",
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.Kind, r.Name, r.Operation, r.Outcome, r.DurationMS)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")

	return cmd
}

func newStateForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <kind> <name>",
		Short: "Drop the persisted state for one entity",
		Long: `Forget removes the local state record without touching the
provider resource. The next create for the same definition will adopt
the resource if it still exists under its natural key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.store.DeleteState(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("forgot state for %s/%s\n", args[0], args[1])
			return nil
		},
	}

	return cmd
}
