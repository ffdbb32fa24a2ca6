package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot all local collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := syncClient.Migration.CreateBackup()
		if err != nil {
			return err
		}
		printSuccess("Backup saved as %s", key)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backup snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := syncClient.Migration.ListBackups()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No backups")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <key>",
	Short: "Replace local collections with a backup snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := syncClient.Migration.RestoreBackup(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no backup named %q", args[0])
		}
		printSuccess("Restored backup %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(restoreCmd)
}
