// chatkit — command-line interface for the chatkit Go SDK.
//
// Connection settings come from the CHATKIT_* environment variables
// (CHATKIT_SERVER_URL, CHATKIT_REST_URL, CHATKIT_USER_ID, CHATKIT_TOKEN) or
// from flags, flags winning.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServerURL string
	flagRESTURL   string
	flagUserID    string
	flagToken     string
)

var rootCmd = &cobra.Command{
	Use:   "chatkit",
	Short: "chatkit SDK CLI",
	Long:  "Command-line interface for the chatkit SDK.\nSend messages, tail rooms live, and page through history.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server-url", "", "WebSocket URL of the chat server (default $CHATKIT_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&flagRESTURL, "rest-url", "", "base URL of the chat REST API (default $CHATKIT_REST_URL)")
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user", "", "user id (default $CHATKIT_USER_ID)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (default $CHATKIT_TOKEN)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
