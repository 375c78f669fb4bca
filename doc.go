// Package chatkit provides a Go client SDK for real-time chat over a
// websocket server with a REST history API.
//
// The SDK owns the connection state machine (with bounded backoff and
// visibility-driven reconnection), room membership with join confirmation
// and retries, durable event subscriptions that survive socket recreation,
// and per-room message timelines with optimistic local echo, server
// reconciliation, and backward pagination.
//
// Basic usage:
//
//	client, err := chatkit.NewClient(chatkit.Config{
//	    ServerURL:   "ws://localhost:4000/socket",
//	    RESTBaseURL: "http://localhost:4000/api",
//	    UserID:      "user-42",
//	    Token:       token,
//	}, chatkit.LogErrors(log.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnTimeline(func(roomID string) {
//	    render(client.Messages(roomID))
//	})
//
//	client.Join("general")
//	client.FetchLatest(ctx, "general")
//	client.Send("general", me, "hello")
//
// Sends appear in the timeline immediately as temporary echoes and are
// replaced in place once the server confirms them; edits and deletes are
// applied only on confirmation.
package chatkit
