// Package messaging carries committed event writes between replicas over an Azure
// Service Bus topic so every replica can drop its local caches.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	receiveBatch = 10

	// Service Bus rejects subscription names longer than this
	maxSubscriptionName = 50
	replicaSuffixLen    = 12
	minAutoDeleteOnIdle = 5 * time.Minute
)

// ErrNotConfigured is returned when no connection string is set
var ErrNotConfigured = errors.New("azure service bus is not configured")

// MutationHandler applies one mutation received from the bus
type MutationHandler func(ctx context.Context, m models.Mutation) error

// ServiceBus publishes mutations to a topic and consumes them from a subscription
type ServiceBus struct {
	client       *azservicebus.Client
	sender       *azservicebus.Sender
	connStr      string
	topic        string
	subscription string
	replicaIdle  time.Duration
}

// NewServiceBus connects to the configured namespace
func NewServiceBus(cfg config.AzureConfig) (*ServiceBus, error) {
	if cfg.ConnStr == "" {
		return nil, ErrNotConfigured
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.Topic, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBus{
		client:       client,
		sender:       sender,
		connStr:      cfg.ConnStr,
		topic:        cfg.Topic,
		subscription: cfg.Subscription,
		replicaIdle:  cfg.ReplicaIdle,
	}, nil
}

// subscriptionAdmin is the part of the admin client used to provision subscriptions
type subscriptionAdmin interface {
	GetSubscription(ctx context.Context, topicName, subscriptionName string, opts *admin.GetSubscriptionOptions) (*admin.GetSubscriptionResponse, error)
	CreateSubscription(ctx context.Context, topicName, subscriptionName string, opts *admin.CreateSubscriptionOptions) (admin.CreateSubscriptionResponse, error)
}

// ReplicaSubscription names the subscription owned by one replica. A topic delivers
// each message once per subscription, so every replica needs its own to see every
// mutation.
func ReplicaSubscription(base, origin string) string {
	suffix := strings.ReplaceAll(origin, "-", "")
	if len(suffix) > replicaSuffixLen {
		suffix = suffix[:replicaSuffixLen]
	}
	if limit := maxSubscriptionName - len(suffix) - 1; len(base) > limit {
		base = base[:limit]
	}
	return base + "-" + suffix
}

// JoinAsReplica switches the consumer to the subscription owned by origin, creating it
// when missing. The subscription deletes itself once the replica has been gone for the
// configured idle time.
func (b *ServiceBus) JoinAsReplica(ctx context.Context, origin string) error {
	if b.subscription == "" {
		return errors.New("azure.subscription must be set to consume mutations")
	}
	client, err := admin.NewClientFromConnectionString(b.connStr, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus admin client")
	}
	name := ReplicaSubscription(b.subscription, origin)
	if err := ensureSubscription(ctx, client, b.topic, name, b.replicaIdle); err != nil {
		return err
	}
	b.subscription = name
	return nil
}

func ensureSubscription(ctx context.Context, client subscriptionAdmin, topic, name string, idle time.Duration) error {
	existing, err := client.GetSubscription(ctx, topic, name, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to look up subscription %s", name)
	}
	if existing != nil {
		return nil
	}

	autoDelete := isoDuration(idle)
	_, err = client.CreateSubscription(ctx, topic, name, &admin.CreateSubscriptionOptions{
		Properties: &admin.SubscriptionProperties{AutoDeleteOnIdle: &autoDelete},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create subscription %s", name)
	}
	log.Info().Str("topic", topic).Str("subscription", name).Str("auto_delete_on_idle", autoDelete).Msg("Created replica subscription")
	return nil
}

// isoDuration renders d in the ISO 8601 form the management API expects
func isoDuration(d time.Duration) string {
	if d < minAutoDeleteOnIdle {
		d = minAutoDeleteOnIdle
	}
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}

// Publish sends one mutation to the topic
func (b *ServiceBus) Publish(ctx context.Context, m models.Mutation) error {
	body, err := EncodeMutation(m)
	if err != nil {
		return err
	}

	contentType := "application/json"
	subject := string(m.Op)
	msg := &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"origin": m.Origin,
			"key":    m.Key.String(),
		},
	}
	if err := b.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to publish %s of %s", m.Op, m.Key)
	}
	return nil
}

// Consume receives from the subscription until ctx is done
func (b *ServiceBus) Consume(ctx context.Context, handler MutationHandler) error {
	if b.subscription == "" {
		return errors.New("azure.subscription must be set to consume mutations")
	}
	receiver, err := b.client.NewReceiverForSubscription(b.topic, b.subscription, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	log.Info().Str("topic", b.topic).Str("subscription", b.subscription).Msg("Consuming event mutations")

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatch, nil)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error().Err(err).Msg("Error receiving mutations, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, msg := range messages {
			settle(ctx, receiver, msg, handler)
		}
	}
}

// settler is the part of a receiver used to finish a message
type settler interface {
	CompleteMessage(ctx context.Context, msg *azservicebus.ReceivedMessage, opts *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, msg *azservicebus.ReceivedMessage, opts *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, msg *azservicebus.ReceivedMessage, opts *azservicebus.DeadLetterOptions) error
}

// settle applies one message. Undecodable messages are dead-lettered, handler failures
// go back to the subscription for redelivery.
func settle(ctx context.Context, r settler, msg *azservicebus.ReceivedMessage, handler MutationHandler) {
	m, err := DecodeMutation(msg.Body)
	if err != nil {
		reason := "malformed mutation"
		desc := err.Error()
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Dead-lettering malformed mutation")
		if err := r.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{Reason: &reason, ErrorDescription: &desc}); err != nil {
			log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to dead-letter message")
		}
		return
	}

	if err := handler(ctx, m); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Str("event", m.Key.String()).Msg("Error applying mutation")
		if err := r.AbandonMessage(ctx, msg, nil); err != nil {
			log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to abandon message")
		}
		return
	}

	if err := r.CompleteMessage(ctx, msg, nil); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to complete message")
	}
}

// Close releases the sender and the client
func (b *ServiceBus) Close(ctx context.Context) error {
	if b.sender != nil {
		if err := b.sender.Close(ctx); err != nil {
			return err
		}
	}
	if b.client != nil {
		return b.client.Close(ctx)
	}
	return nil
}

// EncodeMutation is the wire form of a mutation
func EncodeMutation(m models.Mutation) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal mutation")
	}
	return body, nil
}

// DecodeMutation parses and validates a mutation body
func DecodeMutation(body []byte) (models.Mutation, error) {
	var m models.Mutation
	if err := json.Unmarshal(body, &m); err != nil {
		return models.Mutation{}, errs.Validationf("invalid mutation body: %v", err)
	}
	op, err := models.ParseMutationOp(string(m.Op))
	if err != nil {
		return models.Mutation{}, err
	}
	m.Op = op
	if m.Key.ID == 0 {
		return models.Mutation{}, errs.Validationf("mutation has no event key")
	}
	return m, nil
}
