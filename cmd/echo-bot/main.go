// Echo Bot — a deployable chat bot built with the chatkit Go SDK. It joins
// one room and echoes every message other users post there.
//
// Configuration via environment variables:
//
//	CHATKIT_SERVER_URL — WebSocket URL of the chat server
//	CHATKIT_REST_URL   — base URL of the chat REST API
//	CHATKIT_USER_ID    — user id for the bot
//	CHATKIT_TOKEN      — bearer token
//
// Usage:
//
//	CHATKIT_SERVER_URL=ws://localhost:4000/socket \
//	CHATKIT_REST_URL=http://localhost:4000/api \
//	CHATKIT_USER_ID=echo-bot \
//	CHATKIT_TOKEN=bot-token \
//	  go run ./cmd/echo-bot general
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	chatkit "github.com/chatkit/go-sdk"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	room := "general"
	if len(os.Args) > 1 {
		room = os.Args[1]
	}

	client, err := chatkit.NewClient(chatkit.Config{
		// All fields read from CHATKIT_* env vars by default
	}, chatkit.LogErrors(log.Default()))
	if err != nil {
		log.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	bot := chatkit.Sender{ID: os.Getenv("CHATKIT_USER_ID"), DisplayName: "Echo Bot"}

	client.OnState(func(e chatkit.StateEvent) {
		log.Printf("connection %s -> %s", e.Old, e.New)
	})
	client.OnRoomState(func(roomID string, state chatkit.RoomState, err error) {
		if err != nil {
			log.Printf("room %s: %v", roomID, err)
			return
		}
		log.Printf("room %s: %s", roomID, state)
	})
	client.OnTimeline(func(roomID string) {
		for _, m := range client.Messages(roomID) {
			if m.Sender.ID == bot.ID || m.IsTemporary {
				continue
			}
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			log.Printf("echoing %q from %s", m.Content, m.Sender.ID)
			if _, err := client.Send(roomID, bot, m.Content); err != nil {
				log.Printf("send: %v", err)
			}
		}
	})

	if err := client.EnsureConnected(); err != nil {
		log.Fatalf("EnsureConnected: %v", err)
	}
	client.Join(room)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("echo bot running in room %s", room)
	<-ctx.Done()
	log.Println("shutting down")
}

// seen tracks message ids already echoed, across timeline notifications.
var seen = map[string]bool{}
