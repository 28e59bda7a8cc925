package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty local collections",
	Long: `Clear empties local data. The scope selects what goes:

  main        the news collection
  trash       the trash
  main+trash  the news collection and the trash
  all         the news collection, the trash and every backup

Remote content is never touched.`,
	Example: `  newsync clear --scope trash --yes
  newsync clear --scope main+trash --yes`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

var (
	clearScope string
	clearYes   bool
)

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().StringVar(&clearScope, "scope", "main",
		"What to clear: main, trash, main+trash or all")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false,
		"Do not ask for confirmation")
}

func runClear(cmd *cobra.Command, args []string) error {
	scope, withBackups, err := parseClearScope(clearScope)
	if err != nil {
		return err
	}

	if !clearYes {
		if jsonOutput || !confirm(fmt.Sprintf("Clear %s?", clearScope)) {
			return fmt.Errorf("not confirmed; pass --yes to clear")
		}
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Repo.Clear(ctx, scope); err != nil {
		return err
	}

	removed := 0
	if withBackups {
		if removed, err = c.Backups.Clear(ctx); err != nil {
			return err
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":         true,
			"scope":           clearScope,
			"backups_removed": removed,
		})
	} else {
		printSuccess("Cleared %s", clearScope)
		if removed > 0 {
			printInfo("Removed %d backup(s)", removed)
		}
	}
	return nil
}

// parseClearScope maps a --scope value to the repository scope and whether
// backups go too.
func parseClearScope(s string) (repository.Scope, bool, error) {
	switch s {
	case "main":
		return repository.ScopeMain, false, nil
	case "trash":
		return repository.ScopeTrash, false, nil
	case "main+trash":
		return repository.ScopeMainAndTrash, false, nil
	case "all":
		return repository.ScopeMainAndTrash, true, nil
	}
	return 0, false, fmt.Errorf("invalid scope %q: %w", s, models.ErrInvalidConfig)
}
