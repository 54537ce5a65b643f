package cmd

import (
	"fmt"
	"github.com/arcward/teacloud/teacloud"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Registers the slash command with discord, then exits",
	Long: "Registers the slash command with discord, then exits. Commands " +
		"are registered globally, or only to the configured guild ID if set.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := teacloud.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating teacloud: %w", err)
		}
		if err = bot.ValidateConfig(); err != nil {
			return err
		}
		commands, err := bot.RegisterSlashCommands(discordgo.WithContext(cmd.Context()))
		if err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, c := range commands {
			fmt.Fprintf(out, "registered /%s (id: %s)\n", c.Name, c.ID)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCmd)
}
