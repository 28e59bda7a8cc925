package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/creds"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage remote credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store encrypted remote credentials",
	Long: `Set stores the REST username and application password, and
optionally the plugin API key. Secrets are encrypted with the master
secret before they are written.`,
	Example: `  newsync credentials set --username editor
  newsync credentials set --username editor --plugin-key`,
	Args: cobra.NoArgs,
	RunE: runCredentialsSet,
}

var credentialsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsClear,
}

var (
	credUsername  string
	credPassword  string
	credPluginKey bool
	credPluginURL string
)

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsClearCmd)

	credentialsSetCmd.Flags().StringVarP(&credUsername, "username", "u", "",
		"REST username")
	credentialsSetCmd.Flags().StringVarP(&credPassword, "password", "p", "",
		"Application password (will prompt if not provided)")
	credentialsSetCmd.Flags().BoolVar(&credPluginKey, "plugin-key", false,
		"Also prompt for the plugin API key")
	credentialsSetCmd.Flags().StringVar(&credPluginURL, "plugin-endpoint", "",
		"Plugin endpoint override")
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	if credUsername == "" && !credPluginKey {
		return fmt.Errorf("nothing to store: pass --username and/or --plugin-key")
	}

	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	stored := []string{}
	if credUsername != "" {
		if credPassword == "" {
			credPassword, err = promptPassword(fmt.Sprintf("Application password for %s: ", credUsername))
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
		}

		err = c.Creds.SaveRemote(ctx, creds.RemoteCredentials{
			Username:            credUsername,
			ApplicationPassword: credPassword,
		})
		if err != nil {
			return err
		}
		stored = append(stored, "remote")
	}

	if credPluginKey {
		key, err := promptPassword("Plugin API key: ")
		if err != nil {
			return fmt.Errorf("read api key: %w", err)
		}
		if err := c.Creds.SavePlugin(ctx, creds.PluginSecret{APIKey: key, Endpoint: credPluginURL}); err != nil {
			return err
		}
		stored = append(stored, "plugin")
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"stored":  stored,
		})
	} else {
		printSuccess("Stored %v credentials", stored)
	}
	return nil
}

func runCredentialsClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Creds.Clear(ctx); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Credentials removed")
	}
	return nil
}
