package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	chatkit "github.com/chatkit/go-sdk"
	"github.com/spf13/cobra"
)

var (
	sendDisplayName string

	tailFromHistory bool

	historyPages int
)

func init() {
	sendCmd.Flags().StringVar(&sendDisplayName, "name", "", "display name attached to the message (default user id)")
	tailCmd.Flags().BoolVar(&tailFromHistory, "history", false, "load the latest history page before tailing")
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "number of history pages to fetch")
}

// newClient builds an SDK client from flags and CHATKIT_* env fallbacks.
func newClient() (*chatkit.Client, error) {
	return chatkit.NewClient(chatkit.Config{
		ServerURL:   flagServerURL,
		RESTBaseURL: flagRESTURL,
		UserID:      flagUserID,
		Token:       flagToken,
	}, chatkit.LogErrors(log.New(os.Stderr, "", log.Ltime)))
}

func connect(client *chatkit.Client) error {
	if err := client.EnsureConnected(); err != nil {
		return err
	}
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if client.State() == chatkit.StateConnected {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for connection")
}

func joinAndWait(client *chatkit.Client, room string) error {
	client.Join(room)
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if client.RoomConfirmed(room) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for room %s", room)
}

func printMessage(m chatkit.Message) {
	name := m.Sender.DisplayName
	if name == "" {
		name = m.Sender.ID
	}
	marker := ""
	if m.IsEdited {
		marker = " (edited)"
	}
	fmt.Printf("%s [%s] %s%s\n", m.CreatedAt.Local().Format("15:04:05"), name, m.Content, marker)
}

var sendCmd = &cobra.Command{
	Use:   "send <room> <content>",
	Short: "Send one message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := connect(client); err != nil {
			return err
		}
		if err := joinAndWait(client, args[0]); err != nil {
			return err
		}

		name := sendDisplayName
		if name == "" {
			name = flagUserID
		}
		m, err := client.Send(args[0], chatkit.Sender{ID: flagUserID, DisplayName: name}, args[1])
		if err != nil {
			return err
		}

		// Wait for the echo to be confirmed before exiting.
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			for _, held := range client.Messages(args[0]) {
				if held.Content == m.Content && !held.IsTemporary {
					fmt.Printf("sent %s\n", held.ID)
					return nil
				}
				if held.TempID == m.TempID && held.Failed {
					return fmt.Errorf("send failed")
				}
			}
			time.Sleep(50 * time.Millisecond)
		}
		return fmt.Errorf("send not confirmed in time")
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <room>",
	Short: "Stream a room's messages to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		room := args[0]
		printed := map[string]bool{}
		client.OnTimeline(func(roomID string) {
			if roomID != room {
				return
			}
			for _, m := range client.Messages(roomID) {
				if m.IsTemporary || printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				printMessage(m)
			}
		})

		if err := connect(client); err != nil {
			return err
		}
		if err := joinAndWait(client, room); err != nil {
			return err
		}
		if tailFromHistory {
			if err := client.FetchLatest(context.Background(), room); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Print pages of a room's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		room := args[0]
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.FetchLatest(ctx, room); err != nil {
			return err
		}
		for page := 1; page < historyPages && client.HasMore(room); page++ {
			if err := client.FetchOlder(ctx, room); err != nil {
				return err
			}
		}

		for _, m := range client.Messages(room) {
			printMessage(m)
		}
		if client.HasMore(room) {
			fmt.Println("(older messages available)")
		}
		return nil
	},
}
