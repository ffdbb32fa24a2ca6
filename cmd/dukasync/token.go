package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Store the API token for this device",
	Long: `Token writes the backend API token to a file the config loader picks
up on every run. Without --token the value is prompted without echo.`,
	RunE: runToken,
}

var tokenValue string

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenValue, "token", "", "Token value (prompted when omitted)")
}

func runToken(cmd *cobra.Command, args []string) error {
	token := tokenValue
	if token == "" {
		var err error
		token, err = promptPassword("API token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}
	if token == "" {
		return fmt.Errorf("empty token")
	}

	path := cfg.API.TokenFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".config", "dukasync", "token")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return err
	}

	printSuccess("Token saved to %s", path)
	return nil
}
