package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Process the pending sync queue",
	Long: `Sync runs one pass over the queued mutations, in the order they were
enqueued. Items still inside their retry backoff window are skipped.

With --watch the process stays up and re-syncs on every reconnect.`,
	RunE: runSyncCmd,
}

var (
	syncWatch       bool
	syncRequeueDead bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep running and sync on connectivity changes")
	syncCmd.Flags().BoolVar(&syncRequeueDead, "requeue-dead", false,
		"Move dead-lettered items back into the queue first")
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, stopping...")
		cancel()
	}()

	if syncRequeueDead {
		n, err := syncClient.Queue.RequeueAllDead()
		if err != nil {
			return fmt.Errorf("requeue dead letters: %w", err)
		}
		if n > 0 {
			fmt.Printf("Requeued %d dead-lettered item(s)\n", n)
		}
	}

	result, err := syncClient.Queue.ProcessQueue(ctx)
	if err != nil {
		return err
	}
	printResult(result.Synced, result.Failed, result.Pending)

	if !syncWatch {
		return nil
	}

	printHeader("Watching for connectivity changes (Ctrl-C to stop)")
	syncClient.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-syncClient.Queue.Events():
			if !ok {
				return nil
			}
			printResult(result.Synced, result.Failed, result.Pending)
		}
	}
}

func printResult(synced, failed, pending int) {
	switch {
	case failed > 0:
		printError("Synced %d, dead-lettered %d, pending %d", synced, failed, pending)
	case pending > 0:
		printWarning("Synced %d, pending %d", synced, pending)
	case synced > 0:
		printSuccess("Synced %d item(s)", synced)
	default:
		fmt.Println("Nothing to sync")
	}
}
