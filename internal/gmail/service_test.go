package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gmail-auto-reply-go/internal/apperr"
)

type staticTokens struct{ err error }

func (s staticTokens) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	if s.err != nil {
		return nil, s.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}), nil
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, Mailbox) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := NewService(staticTokens{}, time.Second, BreakerSettings{ConsecutiveFailures: 3},
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	mb, err := svc.Connect(context.Background(), "u1")
	require.NoError(t, err)
	return svc, mb
}

func newTestMailbox(t *testing.T, handler http.HandlerFunc) Mailbox {
	t.Helper()
	_, mb := newTestService(t, handler)
	return mb
}

func TestListHistoryPaginates(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/history", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("startHistoryId"))
		assert.Equal(t, "INBOX", r.URL.Query().Get("labelId"))
		assert.Equal(t, "messageAdded", r.URL.Query().Get("historyTypes"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"history":[{"id":"101","messagesAdded":[{"message":{"id":"A"}},{"message":{"id":"B"}}]}],"nextPageToken":"p2","historyId":"105"}`)
			return
		}
		fmt.Fprint(w, `{"history":[{"id":"102","messagesAdded":[{"message":{"id":"A"}}]}],"historyId":"105"}`)
	})

	page, err := mb.ListHistory(context.Background(), 100, LabelInbox, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, page.MessageIDs)
	assert.Equal(t, "p2", page.NextPageToken)

	page, err = mb.ListHistory(context.Background(), 100, LabelInbox, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, page.MessageIDs)
	assert.Empty(t, page.NextPageToken)
}

func TestListHistoryExpiredStartID(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
	})

	_, err := mb.ListHistory(context.Background(), 1, LabelInbox, "")
	require.Error(t, err)
	assert.True(t, apperr.IsHistoryExpired(err))
	assert.False(t, apperr.IsTransient(err))
}

func TestGetMessageMetadata(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		assert.Equal(t, "metadata", r.URL.Query().Get("format"))
		assert.ElementsMatch(t, []string{"From", "Subject"}, r.URL.Query()["metadataHeaders"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"m1","threadId":"t1","labelIds":["INBOX","UNREAD"],"payload":{"headers":[{"name":"From","value":"Alice <alice@example.com>"},{"name":"Subject","value":"Hi"}]}}`)
	})

	meta, err := mb.GetMessageMetadata(context.Background(), "m1", []string{"From", "Subject"})
	require.NoError(t, err)
	assert.Equal(t, "m1", meta.ID)
	assert.Equal(t, []string{LabelInbox, "UNREAD"}, meta.LabelIDs)

	from, ok := meta.Header("from")
	assert.True(t, ok)
	assert.Equal(t, "Alice <alice@example.com>", from)

	_, ok = meta.Header("X-Autoreply")
	assert.False(t, ok)
}

func TestWatchAndProfile(t *testing.T) {
	mb := newTestMailbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/gmail/v1/users/me/watch":
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"historyId":"1234","expiration":"1700000000000"}`)
		case "/gmail/v1/users/me/profile":
			fmt.Fprint(w, `{"emailAddress":"owner@example.com","historyId":"1234"}`)
		default:
			http.NotFound(w, r)
		}
	})

	resp, err := mb.Watch(context.Background(), "projects/p/topics/t", []string{LabelInbox})
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), resp.HistoryID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), resp.Expiration)

	email, err := mb.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", email)
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	calls := 0
	svc, mb := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Equal(t, "closed", svc.BreakerState())

	for i := 0; i < 3; i++ {
		_, err := mb.Profile(context.Background())
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))
	}

	_, err := mb.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, "open", svc.BreakerState())
}

func TestConnectPropagatesCredentialErrors(t *testing.T) {
	svc := NewService(staticTokens{err: apperr.New(apperr.AuthRequired, "credentials", errors.New("missing"))}, time.Second, BreakerSettings{})
	_, err := svc.Connect(context.Background(), "u1")
	assert.Equal(t, apperr.AuthRequired, apperr.KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, apperr.AuthExpired},
		{"forbidden", &googleapi.Error{Code: 403}, apperr.AuthRequired},
		{"rate limited 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, apperr.Transient},
		{"too many requests", &googleapi.Error{Code: 429}, apperr.Transient},
		{"server error", &googleapi.Error{Code: 503}, apperr.Transient},
		{"bad request", &googleapi.Error{Code: 400}, apperr.Fatal},
		{"refresh rejected", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}, ErrorCode: "invalid_grant"}, apperr.AuthExpired},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), apperr.Transient},
		{"unknown", errors.New("boom"), apperr.Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(Classify("op", tt.err)))
		})
	}
}
