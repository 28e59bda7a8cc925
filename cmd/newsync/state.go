package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and manage sync checkpoints",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the checkpoint for the configured site",
	Args:  cobra.NoArgs,
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the last sync date so the next run pulls everything",
	Args:  cobra.NoArgs,
	RunE:  runStateReset,
}

var stateMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy checkpoints to another state backend",
	Example: `  newsync state migrate --to sqlite --to-path ./data/state.db
  newsync state migrate --to dynamodb --table newsync-state`,
	Args: cobra.NoArgs,
	RunE: runStateMigrate,
}

var (
	migrateBackend string
	migratePath    string
	migrateTable   string
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd, stateResetCmd, stateMigrateCmd)

	stateMigrateCmd.Flags().StringVar(&migrateBackend, "to", "",
		"Target backend: json, sqlite or dynamodb (required)")
	stateMigrateCmd.Flags().StringVar(&migratePath, "to-path", "",
		"Target path for json or sqlite")
	stateMigrateCmd.Flags().StringVar(&migrateTable, "table", "",
		"Target DynamoDB table")

	_ = stateMigrateCmd.MarkFlagRequired("to")
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	cp, err := c.Sync.Checkpoint(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(cp)
		return nil
	}

	fmt.Printf("Site: %s (%s backend)\n", cp.Site, cfg.State.Backend)
	if cp.LastRunID == "" {
		printInfo("No sync recorded yet")
		return nil
	}
	fmt.Printf("   Last run:     %s (%s)\n", cp.LastRunID, cp.LastOutcome)
	if cp.LastSyncAt != nil {
		fmt.Printf("   Last sync:    %s\n", cp.LastSyncAt.Format(time.RFC3339))
	}
	fmt.Printf("   Pulled/Pushed: %d/%d\n", cp.Pulled, cp.Pushed)
	if cp.Failures > 0 {
		fmt.Printf("   Failures:     %d\n", cp.Failures)
	}
	if cp.LastError != "" {
		printWarning("   Last error:   %s", cp.LastError)
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Sync.Reset(ctx); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "site": c.Sync.Site()})
	} else {
		printSuccess("Checkpoint for %s reset", c.Sync.Site())
	}
	return nil
}

func runStateMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	target := config.StateConfig{
		Backend:   migrateBackend,
		Path:      migratePath,
		TableName: migrateTable,
	}
	if target == cfg.State {
		return fmt.Errorf("target is the configured backend")
	}

	src, err := state.Open(ctx, cfg.State, logger)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := state.Open(ctx, target, logger)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer dst.Close()

	copied, err := state.Migrate(ctx, src, dst)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "copied": copied})
	} else {
		printSuccess("Copied %d checkpoint(s) to %s", copied, migrateBackend)
	}
	return nil
}
