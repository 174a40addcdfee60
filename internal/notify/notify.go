// Package notify is the drawing-created push dispatcher. It is not part of
// the pairing/exchange core: it consumes created-record events out-of-band
// and sends a notification to the recipient's registered device token,
// clearing the token when the platform reports it dead.
package notify

import (
	"context"
	"fmt"

	"doodle-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Pusher sends one notification. Satisfied by *apns2.Client.
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Dispatcher watches the store's created-records feed and pushes.
type Dispatcher struct {
	store  repository.Store
	client Pusher
	topic  string
}

// Config carries APNs token-auth credentials.
type Config struct {
	AuthKeyPath string
	KeyID       string
	TeamID      string
	Topic       string
	Production  bool
}

// New builds a dispatcher with a real APNs client.
func New(store repository.Store, cfg Config) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromFile(cfg.AuthKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &Dispatcher{store: store, client: client, topic: cfg.Topic}, nil
}

// NewWithPusher builds a dispatcher around an existing push client.
func NewWithPusher(store repository.Store, client Pusher, topic string) *Dispatcher {
	return &Dispatcher{store: store, client: client, topic: topic}
}

// Run consumes the created-records feed until ctx is cancelled. Delivery
// is best-effort; failures never propagate past the one record.
func (d *Dispatcher) Run(ctx context.Context) error {
	feed, err := d.store.SubscribeCreated(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to created drawings: %w", err)
	}
	defer feed.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-feed.Records():
			if !ok {
				return nil
			}
			d.notify(ctx, rec.ID, rec.FromUserID, rec.ToUserID)
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, drawingID, fromUserID, toUserID string) {
	recipient, err := d.store.GetUser(ctx, toUserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", toUserID).Msg("Recipient not found for push")
		return
	}
	if recipient.DeviceToken == nil {
		log.Debug().Str("user_id", toUserID).Msg("No device token, skipping push")
		return
	}

	senderName := "Your partner"
	if sender, err := d.store.GetUser(ctx, fromUserID); err == nil {
		senderName = sender.DisplayName
	}

	p := payload.NewPayload().
		AlertTitle("New Drawing!").
		AlertBody(fmt.Sprintf("%s sent you a drawing", senderName)).
		Sound("default").
		Badge(1).
		ContentAvailable().
		Custom("drawingId", drawingID).
		Custom("type", "new_drawing")

	res, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: *recipient.DeviceToken,
		Topic:       d.topic,
		Payload:     p,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", toUserID).Msg("Push failed")
		return
	}
	if res.Sent() {
		log.Info().Str("user_id", toUserID).Str("drawing_id", drawingID).Msg("Push sent")
		return
	}

	log.Warn().
		Str("user_id", toUserID).
		Str("reason", res.Reason).
		Int("status", res.StatusCode).
		Msg("Push rejected")

	if res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken {
		if err := d.store.UpdateDeviceToken(ctx, toUserID, nil); err != nil {
			log.Error().Err(err).Str("user_id", toUserID).Msg("Failed to clear dead device token")
		}
	}
}
