package cmd

import (
	"github.com/arcward/teacloud/teacloud"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the TeaCloud bot, status API and (optionally) webhook server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := teacloud.New(cfg)
			if err != nil {
				log.Fatalf("error creating teacloud: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running teacloud: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
