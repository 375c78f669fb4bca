package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// historyClient is the REST collaborator for message history and CRUD. The
// socket carries live events; pages of history and destructive operations go
// over HTTP with the same bearer token.
type historyClient struct {
	baseURL string
	token   func() string
	http    *http.Client
}

func newHistoryClient(baseURL string, token func() string, h *http.Client) *historyClient {
	return &historyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    h,
	}
}

type historyPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// fetchMessages requests one page, newest-first: the latest page when
// beforeID is empty, otherwise messages older than beforeID.
func (h *historyClient) fetchMessages(ctx context.Context, roomID, beforeID string, limit int) ([]Message, bool, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if beforeID != "" {
		q.Set("lastMessageId", beforeID)
	}
	endpoint := fmt.Sprintf("%s/rooms/%s/messages?%s", h.baseURL, url.PathEscape(roomID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}

	var page historyPage
	if err := h.do(req, &page); err != nil {
		return nil, false, err
	}
	return page.Messages, page.HasMore, nil
}

func (h *historyClient) editMessage(ctx context.Context, messageID, newContent string) error {
	body, err := json.Marshal(map[string]string{"content": newContent})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/rooms/messages/%s", h.baseURL, url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, nil)
}

func (h *historyClient) deleteMessage(ctx context.Context, messageID string) error {
	endpoint := fmt.Sprintf("%s/rooms/messages/%s", h.baseURL, url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return h.do(req, nil)
}

// do executes the request with bearer auth and decodes a 2xx JSON body into
// out. Non-2xx responses become a ServerError carrying the server's message
// when it sent one.
func (h *historyClient) do(req *http.Request, out any) error {
	if tok := h.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &body) == nil {
			if body.Message != "" {
				msg = body.Message
			} else if body.Error != "" {
				msg = body.Error
			}
		}
		return &ServerError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
