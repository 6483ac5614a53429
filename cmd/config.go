package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sunbk201/clickrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective config, or generate a template",
	RunE:  runConfig,
}

var configGenerate string

func init() {
	configCmd.Flags().StringVarP(&configGenerate, "generate", "g", "", "Write a template config to this path")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configGenerate != "" {
		if _, err := config.GenerateTemplateConfig(configGenerate); err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template config file '%s' generated successfully.\n", configGenerate)
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg.Tracker.CampaignToken = "***"
	if cfg.API.Secret != "" {
		cfg.API.Secret = "***"
	}
	data, err := config.MarshalYAML(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
