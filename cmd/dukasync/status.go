package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukaanware/dukasync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store identity, queue depth and migration state",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := syncClient.Store()

	id, err := st.StoreID()
	if err != nil {
		return err
	}
	onboarded, err := st.Flag(store.FlagOnboardingDone)
	if err != nil {
		return err
	}
	loggedIn, err := st.Flag(store.FlagLoggedIn)
	if err != nil {
		return err
	}

	queueStatus, err := syncClient.Queue.Status()
	if err != nil {
		return err
	}
	migStatus, err := syncClient.Migration.Status()
	if err != nil {
		return err
	}

	if statusJSON {
		printJSON(map[string]interface{}{
			"store_id":         id,
			"onboarding_done":  onboarded,
			"logged_in":        loggedIn,
			"online":           queueStatus.IsOnline,
			"sync_in_progress": queueStatus.SyncInProgress,
			"pending":          queueStatus.PendingCount,
			"dead":             queueStatus.DeadCount,
			"migration":        migStatus,
		})
		return nil
	}

	printHeader("Store")
	if id == "" {
		printWarning("  id: (not assigned)")
	} else {
		fmt.Printf("  id: %s\n", id)
	}
	fmt.Printf("  onboarded: %v  logged in: %v\n", onboarded, loggedIn)

	printHeader("Connectivity")
	if queueStatus.IsOnline {
		printSuccess("  online")
	} else {
		printWarning("  offline")
	}

	printHeader("Sync queue")
	fmt.Printf("  pending: %d\n", queueStatus.PendingCount)
	if queueStatus.DeadCount > 0 {
		printError("  dead-lettered: %d (run 'dukasync sync --requeue-dead' to retry)", queueStatus.DeadCount)
	} else {
		fmt.Printf("  dead-lettered: 0\n")
	}
	if queueStatus.SyncInProgress {
		fmt.Println("  a sync pass is running")
	}
	for _, item := range queueStatus.Items {
		fmt.Printf("    %-8s %-14s %s", item.Action, item.Entity, item.ID)
		if item.RetryCount > 0 {
			fmt.Printf("  (retries: %d, next: %s)", item.RetryCount, item.NextAttemptAt.Format("15:04:05"))
		}
		fmt.Println()
	}

	printHeader("Migration")
	switch {
	case migStatus == nil:
		fmt.Println("  never run")
	case migStatus.Completed:
		when := ""
		if migStatus.MigratedAt != nil {
			when = migStatus.MigratedAt.Format("2006-01-02 15:04")
		}
		printSuccess("  completed %s", when)
		if len(migStatus.Errors) > 0 {
			printWarning("  with %d record errors", len(migStatus.Errors))
		}
	case migStatus.Failed:
		printError("  failed at %s (%d%%)", migStatus.CurrentStep, migStatus.Progress)
	case migStatus.InProgress:
		printWarning("  in progress: %s (%d%%)", migStatus.CurrentStep, migStatus.Progress)
	}

	return nil
}
