package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmail-auto-reply-go/internal/model"
)

func TestIsIgnore(t *testing.T) {
	assert.True(t, IsIgnore("IGNORE"))
	assert.True(t, IsIgnore("  ignore\n"))
	assert.False(t, IsIgnore("r-123"))
	assert.False(t, IsIgnore(""))
}

func TestThreadID(t *testing.T) {
	assert.Equal(t, "gmail_auto_reply_u1_m1", ThreadID("u1", "m1"))
}

func TestHTTPClientDecide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m1", req.MessageID)
		require.Len(t, req.Rules, 2)
		assert.Equal(t, "first", req.Rules[0].Name)
		assert.Equal(t, "Europe/Paris", req.Config.Timezone)

		_ = json.NewEncoder(w).Encode(map[string]string{"result": " R1 \n"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	result, err := client.Decide(context.Background(), Request{
		MessageID: "m1",
		Rules: RulesFrom([]model.AutoReplyRule{
			{Name: "first", WhenCondition: "a", DoAction: "b"},
			{Name: "second", WhenCondition: "c", DoAction: "d"},
		}),
		Config: UserConfig{UserID: "u1", Timezone: "Europe/Paris", ThreadID: ThreadID("u1", "m1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", result)
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Decide(context.Background(), Request{MessageID: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
