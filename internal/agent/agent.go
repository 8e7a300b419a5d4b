// Package agent talks to the external decision agent that chooses what, if
// anything, to send in response to a message.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gmail-auto-reply-go/internal/model"
)

// Ignore is the decision meaning "take no action".
const Ignore = "IGNORE"

// Rule is the rule view handed to the agent.
type Rule struct {
	Name          string `json:"name"`
	WhenCondition string `json:"when_condition"`
	DoAction      string `json:"do_action"`
	Tone          string `json:"tone"`
}

// UserConfig carries per-user context for one decision.
type UserConfig struct {
	UserID   string `json:"user_id"`
	Timezone string `json:"timezone"`
	ThreadID string `json:"thread_id"`
}

// Request asks the agent to act on one message.
type Request struct {
	MessageID string     `json:"message_id"`
	Rules     []Rule     `json:"rules"`
	Config    UserConfig `json:"config"`
}

// Decider returns either Ignore or an identifier for the action taken.
type Decider interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// RulesFrom converts stored rules, preserving order.
func RulesFrom(rules []model.AutoReplyRule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Rule{
			Name:          r.Name,
			WhenCondition: r.WhenCondition,
			DoAction:      r.DoAction,
			Tone:          r.Tone,
		})
	}
	return out
}

// ThreadID isolates the agent session for one message.
func ThreadID(userID, messageID string) string {
	return fmt.Sprintf("gmail_auto_reply_%s_%s", userID, messageID)
}

// IsIgnore reports whether a decision means "take no action".
func IsIgnore(result string) bool {
	return strings.EqualFold(strings.TrimSpace(result), Ignore)
}

// HTTPClient calls a decision agent over HTTP.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPClient(url, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type decision struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Decide posts req and returns the trimmed result.
func (c *HTTPClient) Decide(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var d decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}
	if d.Error != "" {
		return "", fmt.Errorf("agent error: %s", d.Error)
	}
	return strings.TrimSpace(d.Result), nil
}
