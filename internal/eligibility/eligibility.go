// Package eligibility decides whether an incoming message may receive an
// automated action. It exists to keep the pipeline out of reply loops with
// itself, with other robots and with bulk mail.
package eligibility

import (
	"context"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/gmail"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonFromMe      = "from_me"
	ReasonLabel       = "label"
	ReasonSender      = "automated_sender"
	ReasonAutoHeaders = "auto_generated"
)

var skipLabels = map[string]struct{}{
	gmail.LabelSent:       {},
	"DRAFT":               {},
	"SPAM":                {},
	"TRASH":               {},
	"CATEGORY_PROMOTIONS": {},
}

var skipSenders = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon", "postmaster"}

var (
	basicHeaders = []string{"From", "Subject"}
	autoHeaders  = []string{"Auto-Submitted", "X-Autoreply", "X-Auto-Response-Suppress", "Precedence"}
)

// Result is the outcome of a check. Subject is filled for eligible
// messages.
type Result struct {
	Skip    bool
	Reason  string
	Subject string
}

// Filter classifies messages.
type Filter struct{}

func New() *Filter {
	return &Filter{}
}

// Check classifies messageID in the mailbox owned by owner. An error is
// returned only when the message itself cannot be read; a failed header
// lookup degrades to eligible.
func (f *Filter) Check(ctx context.Context, mb gmail.Mailbox, owner, messageID string) (Result, error) {
	meta, err := mb.GetMessageMetadata(ctx, messageID, basicHeaders)
	if err != nil {
		return Result{}, err
	}

	fields := logrus.Fields{"message_id": messageID}
	h := toMailHeader(meta.Headers)
	sender := senderAddress(h)
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	if owner != "" && strings.EqualFold(sender, owner) {
		logrus.WithFields(fields).Debug("Skipping: sent by self")
		return Result{Skip: true, Reason: ReasonFromMe}, nil
	}
	for _, label := range meta.LabelIDs {
		if _, ok := skipLabels[label]; ok {
			logrus.WithFields(fields).Debugf("Skipping: label %s", label)
			return Result{Skip: true, Reason: ReasonLabel}, nil
		}
	}
	if sender != "" {
		lower := strings.ToLower(sender)
		for _, s := range skipSenders {
			if strings.Contains(lower, s) {
				logrus.WithFields(fields).Debug("Skipping: automated sender")
				return Result{Skip: true, Reason: ReasonSender}, nil
			}
		}
	}

	raw, err := mb.GetMessageMetadata(ctx, messageID, autoHeaders)
	if err != nil {
		logrus.WithFields(fields).Warnf("Failed to fetch email headers: %v", err)
		return Result{Subject: subject}, nil
	}
	if isAutoGenerated(raw) {
		logrus.WithFields(fields).Debug("Skipping: auto-generated headers")
		return Result{Skip: true, Reason: ReasonAutoHeaders}, nil
	}

	return Result{Subject: subject}, nil
}

func isAutoGenerated(meta *gmail.MessageMeta) bool {
	if v, ok := meta.Header("Auto-Submitted"); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && v != "no" {
			return true
		}
	}
	if _, ok := meta.Header("X-Autoreply"); ok {
		return true
	}
	if _, ok := meta.Header("X-Auto-Response-Suppress"); ok {
		return true
	}
	if v, ok := meta.Header("Precedence"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "bulk", "junk", "list":
			return true
		}
	}
	return false
}

func toMailHeader(headers []gmail.Header) mail.Header {
	var h mail.Header
	for _, kv := range headers {
		h.Add(kv.Name, kv.Value)
	}
	return h
}

// senderAddress returns the bare From address, falling back to the raw
// header when it does not parse.
func senderAddress(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	raw := strings.TrimSpace(h.Get("From"))
	if i := strings.LastIndex(raw, "<"); i >= 0 {
		raw = strings.TrimSuffix(raw[i+1:], ">")
	}
	return raw
}
