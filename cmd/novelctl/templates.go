package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"novel-client/internal/client"
	"novel-client/internal/config"
	"novel-client/internal/logger"
	"novel-client/internal/prompts"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and validate prompt templates",
	}
	cmd.AddCommand(newTemplatesListCmd())
	cmd.AddCommand(newTemplatesCheckCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prompt templates with token estimates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dotenvPath)
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
			if err != nil {
				return err
			}
			defer log.Sync()

			tokens, err := client.NewTokenProvider(cfg.AuthURL, cfg.RequestTimeout, cfg.AccessToken, cfg.RefreshToken, log)
			if err != nil {
				return err
			}
			api, err := client.NewProjectAPIClient(cfg.BackendURL, cfg.RequestTimeout, log, tokens)
			if err != nil {
				return err
			}

			templates, err := api.ListPromptTemplates(context.Background())
			if err != nil {
				return err
			}
			if len(templates) == 0 {
				fmt.Println("No prompt templates found.")
				return nil
			}

			for _, tpl := range templates {
				count, err := prompts.EstimateTokens(tpl.Content)
				if err != nil {
					return err
				}
				placeholders := prompts.Placeholders(tpl.Content)
				fmt.Printf("%-24s %-32s ~%d tokens", tpl.ID, tpl.Name, count)
				if len(placeholders) > 0 {
					fmt.Printf("  placeholders: %s", strings.Join(placeholders, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newTemplatesCheckCmd() *cobra.Command {
	var filePath string
	var required []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a template file before uploading",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("failed to read template file: %w", err)
			}
			content := string(raw)

			if err := prompts.Validate(content, required); err != nil {
				return err
			}
			count, err := prompts.EstimateTokens(content)
			if err != nil {
				return err
			}

			fmt.Printf("Template OK: ~%d tokens", count)
			if placeholders := prompts.Placeholders(content); len(placeholders) > 0 {
				fmt.Printf(", placeholders: %s", strings.Join(placeholders, ", "))
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "path to the template file (required)")
	cmd.Flags().StringSliceVar(&required, "required", nil, "placeholder names the template must contain")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
