package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/models"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query the remote CMS directly",
}

var remoteGetCmd = &cobra.Command{
	Use:     "get <remote-id>",
	Short:   "Fetch one post from the remote CMS",
	Example: `  newsync remote get 102`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRemoteGet,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteGetCmd)
}

func runRemoteGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid remote id %q", args[0])
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	item, err := c.Remote.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get %d (%s): %w", id, models.Classify(err), err)
	}

	if jsonOutput {
		printJSON(item)
		return nil
	}

	fmt.Printf("%d  %s\n", item.RemoteID, item.Title)
	fmt.Printf("   slug:       %s\n", item.Slug)
	fmt.Printf("   status:     %s\n", item.Status)
	fmt.Printf("   categories: %s\n", strings.Join(item.Categories, ", "))
	fmt.Printf("   tags:       %s\n", strings.Join(item.Tags, ", "))
	if item.FeaturedImage != nil {
		fmt.Printf("   image:      %s\n", *item.FeaturedImage)
	}
	fmt.Printf("   modified:   %s\n", item.Modified.Format("2006-01-02 15:04:05"))
	return nil
}
