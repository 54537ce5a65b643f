package cmd

import (
	"fmt"
	"github.com/arcward/teacloud/teacloud"
	"github.com/spf13/cobra"
	"io"
	"os"
)

var (
	generateInput  string
	generateTenant string
)

var generateCmd = &cobra.Command{
	Use:   "generate [flags]",
	Short: "Renders a word cloud from a text file (or stdin), without connecting to discord",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var text []byte
		var err error
		if generateInput == "-" {
			text, err = io.ReadAll(cmd.InOrStdin())
		} else {
			text, err = os.ReadFile(generateInput)
		}
		if err != nil {
			return fmt.Errorf("error reading input: %w", err)
		}

		bot, err := teacloud.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating teacloud: %w", err)
		}
		result, err := bot.Generate(cmd.Context(), generateTenant, string(text))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Path)
		return err
	},
}

//nolint:gochecknoinits
func init() {
	generateCmd.Flags().StringVarP(
		&generateInput,
		"input",
		"i",
		"-",
		"Text file to read, or '-' for stdin",
	)
	generateCmd.Flags().StringVarP(
		&generateTenant,
		"tenant",
		"t",
		"offline",
		"Tenant (guild) ID, used to pick a mask and name the output",
	)
	rootCmd.AddCommand(generateCmd)
}
