package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dukaanware/dukasync/internal/client"
	"github.com/dukaanware/dukasync/internal/config"
	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/netmon"
)

var rootCmd = &cobra.Command{
	Use:   "dukasync",
	Short: "Offline-first sync engine for small retail stores",
	Long: `dukasync keeps a store's products, customers, bills and ledgers
usable offline and reconciles local changes with the backend whenever
connectivity allows. Failed writes queue durably and retry with backoff.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initClient()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if syncClient != nil {
			return syncClient.Close()
		}
		return nil
	},
}

var (
	configPath string
	storeID    string
	logLevel   string
	jsonLog    bool
	offline    bool

	cfg        *config.Config
	logger     *events.Logger
	syncClient *client.Client
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default: dukasync.json, ~/.config/dukasync/config.json)")
	rootCmd.PersistentFlags().StringVar(&storeID, "store-id", "",
		"Override the backend store id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false,
		"Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false,
		"Act as if the network is down (no probes, no remote calls)")
}

func initClient() error {
	var err error
	cfg, err = config.NewLoader(configPath).Load()
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if jsonLog {
		cfg.Log.Format = "json"
	}
	if storeID != "" {
		cfg.Store.StoreID = storeID
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	var opts client.Options
	if offline {
		opts.Monitor = netmon.NewManualMonitor(false)
	}
	syncClient, err = client.NewWithOptions(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	headerColor  = color.New(color.FgCyan, color.Bold)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printHeader(text string) {
	headerColor.Println(text)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("marshal output: %v", err)
		return
	}
	fmt.Println(string(data))
}

// promptPassword reads a secret from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
