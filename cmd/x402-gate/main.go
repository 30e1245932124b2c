// Command x402-gate is a reverse proxy that charges for upstream resources
// using the x402 payment protocol.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "x402-gate",
		Short:         "x402 payment gate - reverse proxy charging per request",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "x402-gate.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before the configuration")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
