package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/models"
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Inspect and manage the local news collection",
}

var newsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List news items",
	Args:  cobra.NoArgs,
	RunE:  runNewsList,
}

var newsTrashCmd = &cobra.Command{
	Use:   "trash",
	Short: "List trashed items",
	Args:  cobra.NoArgs,
	RunE:  runNewsTrash,
}

var newsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Move an item to the trash",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsDelete,
}

var newsRestoreCmd = &cobra.Command{
	Use:   "restore <trash-id>",
	Short: "Restore an item from the trash",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsRestore,
}

var newsPurgeCmd = &cobra.Command{
	Use:   "purge <trash-id>",
	Short: "Permanently remove a trash entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsPurge,
}

func init() {
	rootCmd.AddCommand(newsCmd)
	newsCmd.AddCommand(newsListCmd, newsTrashCmd, newsDeleteCmd, newsRestoreCmd, newsPurgeCmd)
}

func runNewsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	items, err := c.Repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(items)
		return nil
	}
	if len(items) == 0 {
		printInfo("No news items")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREMOTE\tSTATUS\tSYNC\tUPDATED\tTITLE")
	for i := range items {
		item := &items[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.LocalID, remoteColumn(item), item.Status, syncColumn(item),
			item.Timestamps.UpdatedAt.Format(time.RFC3339), item.Title)
	}
	return w.Flush()
}

func runNewsTrash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	trash, err := c.Repo.ListTrash(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(trash)
		return nil
	}
	if len(trash) == 0 {
		printInfo("Trash is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRASH ID\tITEM ID\tDELETED\tTITLE")
	for _, t := range trash {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TrashID, t.LocalID, t.DeletedAt.Format(time.RFC3339), t.Title)
	}
	return w.Flush()
}

func runNewsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	entry, err := c.Repo.SoftDelete(ctx, args[0])
	if err != nil {
		return fmt.Errorf("delete %s: %w", args[0], err)
	}

	if jsonOutput {
		printJSON(entry)
	} else {
		printSuccess("Moved %q to trash as %s", entry.Title, entry.TrashID)
	}
	return nil
}

func runNewsRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	item, err := c.Repo.Restore(ctx, args[0])
	if err != nil {
		return fmt.Errorf("restore %s: %w", args[0], err)
	}

	if jsonOutput {
		printJSON(item)
	} else {
		printSuccess("Restored %q as %s", item.Title, item.LocalID)
	}
	return nil
}

func runNewsPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Repo.Purge(ctx, args[0]); err != nil {
		return fmt.Errorf("purge %s: %w", args[0], err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "trash_id": args[0]})
	} else {
		printSuccess("Purged %s", args[0])
	}
	return nil
}

func remoteColumn(item *models.ContentItem) string {
	if !item.HasRemote() {
		return "-"
	}
	return fmt.Sprintf("%d", item.RemoteKey())
}

func syncColumn(item *models.ContentItem) string {
	switch {
	case !item.Sync.SyncedToRemote:
		return "local"
	case item.NeedsPush():
		return "modified"
	default:
		return "synced"
	}
}
