package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphminer/internal/model"
)

func TestFetchEmails(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{
			"user_id": r.URL.Query().Get("user_id"),
			"limit":   r.URL.Query().Get("limit"),
			"from":    r.URL.Query().Get("from"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [
			{"id": "m1", "title": "standup notes", "body": "met with Acme", "occurred_at": "2026-08-27T10:00:00Z"},
			{"id": "m2", "title": "invoice", "body": "payment due", "occurred_at": "2026-08-27T14:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	from := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	items, err := client.FetchEmails(context.Background(), 7, from, from.AddDate(0, 0, 1), 50)
	require.NoError(t, err)

	assert.Equal(t, "/emails", gotPath)
	assert.Equal(t, "7", gotQuery["user_id"])
	assert.Equal(t, "50", gotQuery["limit"])
	assert.Equal(t, "2026-08-27T00:00:00Z", gotQuery["from"])

	require.Len(t, items, 2)
	assert.Equal(t, "m1", items[0].ID)
	// The client stamps the source type; the upstream payload does not carry it.
	assert.Equal(t, model.SourceEmail, items[0].SourceType)
}

func TestFetchCalendarEventsPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	items, err := client.FetchCalendarEvents(context.Background(), 7, time.Now(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, "/calendar_events", gotPath)
	assert.Empty(t, items)
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.FetchEmails(context.Background(), 7, time.Now(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source service 5xx: 503")
}

func TestFetchClientErrorIsNotServerFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.FetchEmails(context.Background(), 7, time.Now(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source service error: 400")
}

func TestFetchConnectionFailure(t *testing.T) {
	// Nothing listening here.
	client := NewHTTPClient("http://127.0.0.1:1")
	_, err := client.FetchEmails(context.Background(), 7, time.Now(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to call source service")
}
