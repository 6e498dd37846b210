package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyShowN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the conversation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print retained conversation turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "history_show")
		defer span.End()

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		turns, err := a.store.Recent(ctx, historyShowN)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}
		if len(turns) == 0 {
			fmt.Println("No conversation history.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tROLE\tTEXT")
		for _, t := range turns {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Timestamp.Format("2006-01-02 15:04:05"), t.Role, t.Text)
		}
		return w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all retained conversation turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "history_clear")
		defer span.End()

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing history: %w", err)
		}
		fmt.Println("Conversation history cleared.")
		return nil
	},
}

func init() {
	historyShowCmd.Flags().IntVar(&historyShowN, "n", 0, "number of most recent turns (0 = all)")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}
