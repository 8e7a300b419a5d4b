package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmail-auto-reply-go/internal/gmail"
)

type fakeMailbox struct {
	gmail.Mailbox
	labels    []string
	basic     []gmail.Header
	auto      []gmail.Header
	basicErr  error
	autoErr   error
	autoCalls int
}

func (m *fakeMailbox) GetMessageMetadata(ctx context.Context, id string, headers []string) (*gmail.MessageMeta, error) {
	if headers[0] == "From" {
		if m.basicErr != nil {
			return nil, m.basicErr
		}
		return &gmail.MessageMeta{ID: id, LabelIDs: m.labels, Headers: m.basic}, nil
	}
	m.autoCalls++
	if m.autoErr != nil {
		return nil, m.autoErr
	}
	return &gmail.MessageMeta{ID: id, LabelIDs: m.labels, Headers: m.auto}, nil
}

func from(v string) []gmail.Header {
	return []gmail.Header{{Name: "From", Value: v}, {Name: "Subject", Value: "Hello there"}}
}

func TestCheckEligible(t *testing.T) {
	mb := &fakeMailbox{labels: []string{"INBOX", "UNREAD"}, basic: from("Alice <alice@example.com>")}

	res, err := New().Check(context.Background(), mb, "owner@example.com", "m1")
	require.NoError(t, err)
	assert.False(t, res.Skip)
	assert.Equal(t, "Hello there", res.Subject)
	assert.Equal(t, 1, mb.autoCalls)
}

func TestCheckSkips(t *testing.T) {
	tests := []struct {
		name   string
		mb     *fakeMailbox
		reason string
	}{
		{"from me", &fakeMailbox{labels: []string{"INBOX"}, basic: from("Owner <OWNER@example.com>")}, ReasonFromMe},
		{"sent label", &fakeMailbox{labels: []string{"SENT"}, basic: from("alice@example.com")}, ReasonLabel},
		{"promotions", &fakeMailbox{labels: []string{"INBOX", "CATEGORY_PROMOTIONS"}, basic: from("shop@example.com")}, ReasonLabel},
		{"noreply sender", &fakeMailbox{labels: []string{"INBOX"}, basic: from("Service <No-Reply@service.example>")}, ReasonSender},
		{"mailer daemon", &fakeMailbox{labels: []string{"INBOX"}, basic: from("MAILER-DAEMON@mx.example")}, ReasonSender},
		{"x-autoreply", &fakeMailbox{labels: []string{"INBOX"}, basic: from("bob@example.com"), auto: []gmail.Header{{Name: "X-Autoreply", Value: "yes"}}}, ReasonAutoHeaders},
		{"auto-submitted", &fakeMailbox{labels: []string{"INBOX"}, basic: from("bob@example.com"), auto: []gmail.Header{{Name: "Auto-Submitted", Value: "auto-replied"}}}, ReasonAutoHeaders},
		{"suppress", &fakeMailbox{labels: []string{"INBOX"}, basic: from("bob@example.com"), auto: []gmail.Header{{Name: "X-Auto-Response-Suppress", Value: "All"}}}, ReasonAutoHeaders},
		{"bulk precedence", &fakeMailbox{labels: []string{"INBOX"}, basic: from("bob@example.com"), auto: []gmail.Header{{Name: "Precedence", Value: "Bulk"}}}, ReasonAutoHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New().Check(context.Background(), tt.mb, "owner@example.com", "m1")
			require.NoError(t, err)
			assert.True(t, res.Skip)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCheckAutoSubmittedNoIsEligible(t *testing.T) {
	mb := &fakeMailbox{
		labels: []string{"INBOX"},
		basic:  from("bob@example.com"),
		auto:   []gmail.Header{{Name: "Auto-Submitted", Value: "No"}, {Name: "Precedence", Value: "first-class"}},
	}
	res, err := New().Check(context.Background(), mb, "owner@example.com", "m1")
	require.NoError(t, err)
	assert.False(t, res.Skip)
}

func TestCheckHeaderFetchFailureIsEligible(t *testing.T) {
	mb := &fakeMailbox{labels: []string{"INBOX"}, basic: from("bob@example.com"), autoErr: errors.New("backend error")}

	res, err := New().Check(context.Background(), mb, "owner@example.com", "m1")
	require.NoError(t, err)
	assert.False(t, res.Skip)
	assert.Equal(t, "Hello there", res.Subject)
}

func TestCheckMessageFetchFailure(t *testing.T) {
	mb := &fakeMailbox{basicErr: errors.New("gone")}

	_, err := New().Check(context.Background(), mb, "owner@example.com", "m1")
	assert.Error(t, err)
}

func TestCheckDecodesEncodedSubject(t *testing.T) {
	mb := &fakeMailbox{
		labels: []string{"INBOX"},
		basic:  []gmail.Header{{Name: "From", Value: "alice@example.com"}, {Name: "Subject", Value: "=?UTF-8?B?SGVsbG8gd29ybGQ=?="}},
	}
	res, err := New().Check(context.Background(), mb, "", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Subject)
}
