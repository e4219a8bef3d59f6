// Package cmd implements the aurora command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/aurora/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string
	// logLevel overrides the configured log level when set.
	logLevel string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "aurora",
		Short: "Feed reader backend",
		Long: `Aurora fetches RSS and Atom feeds on a schedule, caches site icons
and exposes task and cache management over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				c.Log.Level = logLevel
			}
			cfg = c
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(iconCmd)
	rootCmd.AddCommand(tasksCmd)
}
