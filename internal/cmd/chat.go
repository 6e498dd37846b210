package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [text]",
	Short: "Send one utterance through the assistant and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "chat")
		defer span.End()

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		reply := a.pipeline.Handle(ctx, strings.Join(args, " "))

		fmt.Println(reply.Message)
		if reply.Action != "" {
			status := "refused"
			if reply.Executed {
				status = "executed"
			}
			fmt.Printf("[action %s: %s]\n", reply.Action, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
