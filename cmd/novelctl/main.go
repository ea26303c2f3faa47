package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	dotenvPath string
	projectID  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "novelctl",
		Short: "Terminal client for the novel generation backend",
		Long: `Novelctl drives multi-step novel project generation from a terminal:
world building, careers, characters and outline, streamed step by step
with progress, resume and retry support.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dotenvPath, "env-file", ".env", "path to .env file with backend settings")

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newTemplatesCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("novelctl version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
