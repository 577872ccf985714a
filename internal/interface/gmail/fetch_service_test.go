package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeGmail serves just enough of the messages/history surface for the
// fetch service. Routing is deliberately loose: the client library owns
// the exact path layout.
type fakeGmail struct {
	mux *http.ServeMux
	srv *httptest.Server

	listResponses []string
	listCalls     int
	getStatus     map[string]int
	historyStatus int
	historyBody   string
}

func newFakeGmail(t *testing.T) *fakeGmail {
	t.Helper()
	f := &fakeGmail{getStatus: make(map[string]int)}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/history"):
			if f.historyStatus != 0 && f.historyStatus != http.StatusOK {
				w.WriteHeader(f.historyStatus)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"history error"}}`, f.historyStatus)
				return
			}
			fmt.Fprint(w, f.historyBody)
		case strings.Contains(r.URL.Path, "/messages/"):
			parts := strings.Split(r.URL.Path, "/")
			id := parts[len(parts)-1]
			if status, ok := f.getStatus[id]; ok {
				w.WriteHeader(status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"message error"}}`, status)
				return
			}
			fmt.Fprint(w, messageJSON(id))
		case strings.Contains(r.URL.Path, "/messages"):
			body := `{"messages":[]}`
			if f.listCalls < len(f.listResponses) {
				body = f.listResponses[f.listCalls]
			}
			f.listCalls++
			fmt.Fprint(w, body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func messageJSON(id string) string {
	text := base64.URLEncoding.EncodeToString([]byte("plain body"))
	html := base64.URLEncoding.EncodeToString([]byte("<p>html body</p>"))
	return fmt.Sprintf(`{
		"id": %q,
		"threadId": "th-1",
		"historyId": "4321",
		"internalDate": "1756500000000",
		"snippet": "a snippet",
		"labelIds": ["UNREAD", "STARRED", "INBOX"],
		"payload": {
			"mimeType": "multipart/alternative",
			"headers": [
				{"name": "From", "value": "Sender <s@x.test>"},
				{"name": "To", "value": "r@x.test"},
				{"name": "Subject", "value": "Hello"},
				{"name": "In-Reply-To", "value": "<orig@x.test>"},
				{"name": "References", "value": "<root@x.test> <orig@x.test>"}
			],
			"parts": [
				{"mimeType": "text/plain", "body": {"data": %q}},
				{"mimeType": "text/html", "body": {"data": %q}}
			]
		}
	}`, id, text, html)
}

func newTestFetchService(t *testing.T, f *fakeGmail) *FetchService {
	t.Helper()
	svc, err := NewFetchService(context.Background(), "test-token", logger.NewNop(),
		option.WithEndpoint(f.srv.URL))
	require.NoError(t, err)
	svc.policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestListMessages(t *testing.T) {
	f := newFakeGmail(t)
	f.listResponses = []string{`{"messages":[{"id":"m1"},{"id":"m2"}],"nextPageToken":"page-2"}`}

	svc := newTestFetchService(t, f)

	result, err := svc.ListMessages(context.Background(), entity.SyncConfig{MaxResults: 50, Query: "after:2026/08/10"})
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, result.MessageIDs)
	assert.Equal(t, "page-2", result.NextPageToken)
}

func TestGetMessageConvertsFields(t *testing.T) {
	f := newFakeGmail(t)
	svc := newTestFetchService(t, f)

	email, err := svc.GetMessage(context.Background(), "m1", 0)
	require.NoError(t, err)

	assert.Equal(t, "m1", email.MessageID)
	assert.Equal(t, "th-1", email.ThreadID)
	assert.Equal(t, "Sender <s@x.test>", email.From)
	assert.Equal(t, "Hello", email.Subject)
	assert.Equal(t, "<orig@x.test>", email.InReplyTo)
	assert.Equal(t, "plain body", email.Body)
	assert.Equal(t, "<p>html body</p>", email.HTMLBody)
	assert.False(t, email.IsRead)
	assert.True(t, email.IsStarred)
	assert.Equal(t, time.UnixMilli(1756500000000).Unix(), email.ReceivedAt.Unix())
}

func TestGetMessageTruncatesBody(t *testing.T) {
	f := newFakeGmail(t)
	svc := newTestFetchService(t, f)

	email, err := svc.GetMessage(context.Background(), "m1", 5)
	require.NoError(t, err)
	assert.Equal(t, "plain", email.Body)
}

func TestGetMessagesIsolatesPerMessageFailures(t *testing.T) {
	f := newFakeGmail(t)
	f.getStatus["bad"] = http.StatusBadRequest

	svc := newTestFetchService(t, f)

	result, err := svc.GetMessages(context.Background(), []string{"m1", "bad", "m2"}, 0)
	require.NoError(t, err)

	assert.Len(t, result.Emails, 2)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors, "bad")
	assert.Equal(t, uint64(4321), result.LatestHistoryID)
}

func TestGetHistoryExpiredCursorRequestsFullSync(t *testing.T) {
	f := newFakeGmail(t)
	f.historyStatus = http.StatusNotFound

	svc := newTestFetchService(t, f)

	result, err := svc.GetHistory(context.Background(), 900)
	require.NoError(t, err, "an expired cursor is not an error")
	assert.True(t, result.FullSyncRequired)
	assert.Empty(t, result.AddedIDs)
}

func TestGetHistoryCollectsAddedMessages(t *testing.T) {
	f := newFakeGmail(t)
	f.historyBody = `{
		"historyId": "1500",
		"history": [
			{"messagesAdded": [{"message": {"id": "m1"}}]},
			{"messagesAdded": [{"message": {"id": "m2"}}, {"message": {"id": "m1"}}]}
		]
	}`

	svc := newTestFetchService(t, f)

	result, err := svc.GetHistory(context.Background(), 900)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, result.AddedIDs, "duplicates collapse")
	assert.Equal(t, uint64(1500), result.NewHistoryID)
	assert.False(t, result.FullSyncRequired)
}
