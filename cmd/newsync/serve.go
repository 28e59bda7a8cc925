package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync API over HTTP",
	Long: `Serve exposes sync, news, trash and backup operations as a JSON
API, plus a websocket that streams sync progress. It binds to
server.addr (default 127.0.0.1:8089).`,
	Example: `  newsync serve
  newsync serve --addr 0.0.0.0:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signalContext()
	defer cancel()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.NewServer(c.Sync, c.Repo, c.Backups, logger)
	if !jsonOutput {
		printInfo("Listening on http://%s", addr)
	}
	return server.ListenAndServe(ctx, addr)
}
