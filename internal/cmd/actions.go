package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the actions the assistant is allowed to perform",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "actions")
		defer span.End()

		_, cat, err := loadConfigAndCatalog()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSERVICE\tENTITY\tDESCRIPTION")
		for _, a := range cat.Actions() {
			fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\n", a.Name, a.Domain, a.Service, a.EntityID, a.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(actionsCmd)
}
