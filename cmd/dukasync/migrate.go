package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukaanware/dukasync/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upload pre-existing local data to the backend store",
	Long: `Migrate performs the one-time bulk upload of locally created data:
store profile, then products, customers and bills in dependency order.
Per-record failures are collected without aborting the run.

A completed migration will not run again unless --reset is given first.`,
	RunE: runMigrate,
}

var (
	migrateBackup bool
	migrateReset  bool
	migrateVerify bool
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateBackup, "backup", true,
		"Snapshot local data before migrating")
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false,
		"Clear the migration status and exit")
	migrateCmd.Flags().BoolVar(&migrateVerify, "verify", false,
		"Compare local and remote record counts and exit")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if migrateReset {
		if err := syncClient.Migration.Reset(); err != nil {
			return err
		}
		printSuccess("Migration status cleared")
		return nil
	}

	if migrateVerify {
		mismatches, err := syncClient.Migration.Verify(ctx)
		if err != nil {
			return err
		}
		if len(mismatches) == 0 {
			printSuccess("All collections match")
			return nil
		}
		printWarning("Found %d mismatch(es):", len(mismatches))
		for _, m := range mismatches {
			fmt.Printf("  %s\n", m)
		}
		return nil
	}

	needed, err := syncClient.Migration.NeedsMigration()
	if err != nil {
		return err
	}
	if !needed {
		fmt.Println("Nothing to migrate")
		return nil
	}

	if migrateBackup {
		key, err := syncClient.Migration.CreateBackup()
		if err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
		fmt.Printf("Backup saved as %s\n", key)
	}

	bar := newProgressBar()
	result, err := syncClient.Migration.Migrate(ctx, func(p models.MigrationProgress) {
		bar.update(p.Step, p.Progress)
	})
	bar.done()

	if err != nil {
		if errors.Is(err, models.ErrMigrationCompleted) {
			fmt.Println("Migration already completed")
			return nil
		}
		return err
	}

	fmt.Printf("\nMigrated %d products, %d customers, %d bills",
		result.ProductsCount, result.CustomersCount, result.BillsCount)
	if result.StoreInfoMigrated {
		fmt.Print(", store profile")
	}
	fmt.Printf(" in %s\n", result.Duration.Round(100*time.Millisecond))

	if result.Success {
		printSuccess("Migration completed successfully")
	} else {
		printWarning("Migration completed with %d record error(s):", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
	return nil
}

// progressBar renders a single-line text progress bar.
type progressBar struct {
	lastStep string
}

func newProgressBar() *progressBar { return &progressBar{} }

func (b *progressBar) update(step string, progress int) {
	filled := progress * 30 / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", 30-filled)
	fmt.Printf("\r[%s] %3d%%  %-14s", bar, progress, step)
	b.lastStep = step
}

func (b *progressBar) done() {
	if b.lastStep != "" {
		fmt.Println()
	}
}
