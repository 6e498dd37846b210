package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/homewarden/warden/internal/catalog"
)

var (
	validateFile         string
	validatePrintDefault bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an action catalog file",
	Long:  "Validates a catalog YAML against the schema and checks every action against the entity and service allowlists",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "validate")
		defer span.End()

		if validatePrintDefault {
			_, err := os.Stdout.Write(catalog.DefaultYAML())
			return err
		}

		var (
			cat *catalog.Catalog
			err error
		)
		if validateFile == "" {
			cat, err = catalog.Default()
			validateFile = "(embedded default)"
		} else {
			cat, err = catalog.Load(validateFile)
		}
		if err != nil {
			log.Error().Err(err).Str("file", validateFile).Msg("catalog validation failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("validation failed: %w", err)
		}

		fmt.Printf("✓ Catalog valid: %s (%d actions)\n", validateFile, len(cat.ActionNames()))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "catalog file to validate (default: embedded catalog)")
	validateCmd.Flags().BoolVar(&validatePrintDefault, "print-default", false, "print the embedded default catalog and exit")
	rootCmd.AddCommand(validateCmd)
}
