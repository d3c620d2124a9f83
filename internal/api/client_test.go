package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradelane/marketchat/internal/auth"
	"github.com/tradelane/marketchat/internal/chatcore"
	"github.com/tradelane/marketchat/internal/session"
)

func testToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewToken("test-secret", 1, 60)
	require.NoError(t, err)
	return token
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sess, err := session.New(token)
	require.NoError(t, err)
	return New(srv.URL, sess)
}

func TestHistoryMapsMessages(t *testing.T) {
	token := testToken(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/messages/chat/2", r.URL.Path)
		require.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "sender": 2, "recipient": 1, "content": "hey", "timestamp": "2026-08-30T10:00:00Z", "is_read": false},
			{"id": 2, "sender": 1, "recipient": 2, "content": "hi", "timestamp": "2026-08-30T10:00:05Z", "is_read": true},
		})
	}, token)

	msgs, err := client.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(2), msgs[0].Sender)
	require.Equal(t, chatcore.StatusConfirmed, msgs[0].Status)
	require.True(t, msgs[1].Read)
	require.Equal(t, 2026, msgs[0].Timestamp.Year())
}

func TestSendPostsAndReturnsServerCopy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages/send", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, float64(2), body["recipient"])
		require.Equal(t, "hello", body["content"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": 42, "sender": 1, "recipient": 2, "content": "hello",
			"timestamp": "2026-08-30T10:00:00Z", "is_read": false,
		})
	}, testToken(t))

	m, err := client.Send(context.Background(), 2, "hello")
	require.NoError(t, err)
	require.Equal(t, int64(42), m.ID)
	require.Equal(t, chatcore.StatusConfirmed, m.Status)
}

func TestEditAndDeleteHitMessageRoutes(t *testing.T) {
	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(`{}`))
	}, testToken(t))

	require.NoError(t, client.Edit(context.Background(), 5, "new text"))
	require.NoError(t, client.Delete(context.Background(), 5))
	require.Equal(t, []string{"PATCH /messages/5", "DELETE /messages/5"}, calls)
}

func TestUnauthorizedIsSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, testToken(t))

	_, err := client.Chats(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthedCallWithoutTokenFailsBeforeRequest(t *testing.T) {
	hit := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}, "")

	_, err := client.Me(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, hit, "missing token must short-circuit the request")
}

func TestErrorBodySurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "you can only edit your own messages"})
	}, testToken(t))

	err := client.Edit(context.Background(), 9, "x")
	require.ErrorContains(t, err, "you can only edit your own messages")
}

func TestLoginIsUnauthenticated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
	}, "")

	token, err := client.Login(context.Background(), "amina", "secret")
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)
}

func TestUploadMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload", r.URL.Path)
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "receipt.pdf", hdr.Filename)
		json.NewEncoder(w).Encode(map[string]string{"url": "/media/abc.pdf"})
	}, testToken(t))

	url, err := client.Upload(context.Background(), "receipt.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.Equal(t, "/media/abc.pdf", url)
}

func TestChatsDecodesSummaries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages/chats", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id": 2, "username": "bakary", "first_name": "Bakary", "last_name": "Toure",
				"last_message": map[string]string{"content": "deal", "timestamp": "2026-08-30T09:00:00Z"},
				"unread_count": 3,
			},
		})
	}, testToken(t))

	chats, err := client.Chats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "bakary", chats[0].Username)
	require.NotNil(t, chats[0].LastMessage)
	require.Equal(t, "deal", chats[0].LastMessage.Content)
	require.Equal(t, 3, chats[0].UnreadCount)
}
