// Package pubsub receives Gmail notifications from a pull subscription and
// feeds them through the same pipeline as push deliveries.
package pubsub

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"gmail-auto-reply-go/internal/webhook"
)

// Handler processes one decoded notification.
type Handler interface {
	Handle(ctx context.Context, env webhook.Envelope) (webhook.Outcome, error)
}

// Message is the part of a Pub/Sub message the puller needs.
type Message interface {
	ID() string
	Data() []byte
	Ack()
	Nack()
}

// Puller drains a subscription into a Handler.
type Puller struct {
	client       *gpubsub.Client
	subscription string
	handler      Handler
}

// NewPuller connects to project. credentialsFile may be empty to use
// application default credentials.
func NewPuller(ctx context.Context, project, subscription, credentialsFile string, handler Handler) (*Puller, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gpubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &Puller{client: client, subscription: subscription, handler: handler}, nil
}

// Run receives until ctx is cancelled.
func (p *Puller) Run(ctx context.Context) error {
	sub := p.client.Subscription(p.subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", p.subscription, err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", p.subscription)
	}

	logrus.WithField("subscription", p.subscription).Info("Listening for Gmail notifications")
	err = sub.Receive(ctx, func(ctx context.Context, msg *gpubsub.Message) {
		HandleMessage(ctx, p.handler, pubsubMessage{msg})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *Puller) Close() error {
	return p.client.Close()
}

// HandleMessage decodes msg and hands it to h. Undecodable messages are
// acked since a redelivery cannot fix them; storage failures are nacked.
func HandleMessage(ctx context.Context, h Handler, msg Message) {
	log := logrus.WithField("message_id", msg.ID())

	email, historyID, err := webhook.ParseNotificationData(msg.Data())
	if err != nil {
		log.Warnf("Dropping undecodable notification: %v", err)
		msg.Ack()
		return
	}

	outcome, err := h.Handle(ctx, webhook.Envelope{MessageID: msg.ID(), Email: email, HistoryID: historyID})
	if err != nil {
		log.Errorf("Failed to handle notification: %v", err)
		msg.Nack()
		return
	}
	log.WithField("outcome", string(outcome)).Debug("Notification handled")
	msg.Ack()
}

type pubsubMessage struct{ m *gpubsub.Message }

func (p pubsubMessage) ID() string   { return p.m.ID }
func (p pubsubMessage) Data() []byte { return p.m.Data }
func (p pubsubMessage) Ack()         { p.m.Ack() }
func (p pubsubMessage) Nack()        { p.m.Nack() }
