//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const frameTimeout = 5 * time.Second

var userSeq atomic.Int64

// User is a registered account with a live session
type User struct {
	ID    string
	Name  string
	Email string
	Token string
}

type chatBody struct {
	ID                 string            `json:"id"`
	Kind               string            `json:"kind"`
	Label              string            `json:"label"`
	DisplayLabel       string            `json:"display_label"`
	Unread             int               `json:"unread"`
	BoundRosterID      *string           `json:"bound_roster_id"`
	ParticipantIDs     []string          `json:"participant_ids"`
	VisibleToIDs       []string          `json:"visible_to_ids"`
	UnreadCounts       map[string]int    `json:"unread_counts"`
	LastMessagePreview string            `json:"last_message_preview"`
	AvatarURL          string            `json:"avatar_url"`
	HistoryCutoffs     map[string]string `json:"history_cutoffs"`
}

type messageBody struct {
	ID       string  `json:"id"`
	ChatID   string  `json:"chat_id"`
	Kind     string  `json:"kind"`
	SenderID *string `json:"sender_id"`
	Text     string  `json:"text"`
	ImageURL string  `json:"image_url"`
}

type serverFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// newUser registers and logs in a fresh account named name
func newUser(t *testing.T, name string) *User {
	t.Helper()

	n := userSeq.Add(1)
	u := &User{
		Name:  name,
		Email: fmt.Sprintf("%s.%d.%d@e2e.test", name, time.Now().UnixNano(), n),
	}

	var created struct {
		ID string `json:"id"`
	}
	status := call(t, nil, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"name": name, "email": u.Email, "password": "password123",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	u.ID = created.ID

	var login struct {
		Token string `json:"token"`
	}
	status = call(t, nil, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": u.Email, "password": "password123",
	}, &login)
	require.Equal(t, http.StatusOK, status)
	u.Token = login.Token
	return u
}

// call sends a JSON request as u (anonymous when nil) and decodes the
// response into out when out is non-nil and the body is not empty
func call(t *testing.T, u *User, method, path string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

func createChat(t *testing.T, u *User, label string, recipients ...string) chatBody {
	t.Helper()
	var chat chatBody
	status := call(t, u, http.MethodPost, "/api/v1/chats", map[string]any{
		"recipients": recipients, "label": label,
	}, &chat)
	require.Equal(t, http.StatusCreated, status)
	return chat
}

func sendText(t *testing.T, u *User, chatID, text string) messageBody {
	t.Helper()
	var msg messageBody
	status := call(t, u, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", map[string]string{"text": text}, &msg)
	require.Equal(t, http.StatusCreated, status)
	return msg
}

func getChat(t *testing.T, u *User, chatID string) chatBody {
	t.Helper()
	var chat chatBody
	require.Equal(t, http.StatusOK, call(t, u, http.MethodGet, "/api/v1/chats/"+chatID, nil, &chat))
	return chat
}

func listChats(t *testing.T, u *User) []chatBody {
	t.Helper()
	var out struct {
		Chats []chatBody `json:"chats"`
	}
	require.Equal(t, http.StatusOK, call(t, u, http.MethodGet, "/api/v1/chats", nil, &out))
	return out.Chats
}

func history(t *testing.T, u *User, chatID string) []messageBody {
	t.Helper()
	var out struct {
		Messages []messageBody `json:"messages"`
	}
	require.Equal(t, http.StatusOK, call(t, u, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", nil, &out))
	return out.Messages
}

func texts(msgs []messageBody) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// WSClient reads server frames in the background
type WSClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan serverFrame
}

// dial opens path (e.g. /ws/chats) as u
func dial(t *testing.T, u *User, path string) (*WSClient, *http.Response, error) {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL+path+"?token="+u.Token, nil)
	if err != nil {
		return nil, resp, err
	}

	c := &WSClient{t: t, conn: conn, frames: make(chan serverFrame, 100)}
	go c.readLoop()
	t.Cleanup(func() { _ = c.conn.Close() })
	return c, resp, nil
}

func (c *WSClient) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.t.Logf("failed to unmarshal frame: %v", err)
			continue
		}
		select {
		case c.frames <- f:
		default:
			c.t.Log("frame channel full, dropping frame")
		}
	}
}

func (c *WSClient) Send(frame map[string]string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// WaitFor returns the first frame of frameType whose data satisfies match
func WaitFor[T any](c *WSClient, frameType string, match func(T) bool) T {
	c.t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case f, ok := <-c.frames:
			require.True(c.t, ok, "connection closed while waiting for %s frame", frameType)
			if f.Type != frameType {
				continue
			}
			var v T
			if len(f.Data) > 0 {
				require.NoError(c.t, json.Unmarshal(f.Data, &v))
			}
			if match(v) {
				return v
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s frame", frameType)
		}
	}
}

// WaitClosed fails unless the server closes the connection in time
func (c *WSClient) WaitClosed() {
	c.t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("connection still open")
		}
	}
}
