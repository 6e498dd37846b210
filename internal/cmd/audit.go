package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/homewarden/warden/internal/audit"
	"github.com/homewarden/warden/internal/config"
)

var auditTailN int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent security events and verify their signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "audit")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := audit.NewLogger(cfg.AuditLogPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logger.Close()

		events, err := logger.Tail(auditTailN)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No security events recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tCORRELATION\tSIG\tDETAIL")
		for _, ev := range events {
			sig := "ok"
			if !logger.VerifyEvent(ev) {
				sig = "INVALID"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Kind, ev.CorrelationID, sig, ev.Detail)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditTailN, "n", 50, "number of most recent events")
	rootCmd.AddCommand(auditCmd)
}
