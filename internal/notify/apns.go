// Package notify delivers push alerts to host devices.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Config selects the APNs credentials. Token auth (KeyPath) wins over a
// certificate when both are set.
type Config struct {
	CertPath     string
	CertPassword string
	KeyPath      string
	KeyID        string
	TeamID       string
	Topic        string
	Production   bool
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool {
	return c.CertPath != "" || c.KeyPath != ""
}

// APNs sends alerts through Apple Push Notification service
type APNs struct {
	client *apns2.Client
	topic  string
}

// NewAPNs creates a new APNs notifier
func NewAPNs(cfg Config) (*APNs, error) {
	if cfg.Topic == "" {
		return nil, errors.New("apns topic is required")
	}

	var client *apns2.Client
	switch {
	case cfg.KeyPath != "":
		key, err := token.AuthKeyFromFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load apns auth key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	case cfg.CertPath != "":
		cert, err := certificate.FromP12File(cfg.CertPath, cfg.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load apns certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	default:
		return nil, errors.New("apns credentials are not configured")
	}

	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return newAPNs(client, cfg.Topic), nil
}

func newAPNs(client *apns2.Client, topic string) *APNs {
	return &APNs{client: client, topic: topic}
}

// NotifyPending tells a host that guest photos await approval
func (a *APNs) NotifyPending(ctx context.Context, deviceToken, eventName string, count int) error {
	body := fmt.Sprintf("%d new photos awaiting approval", count)
	if count == 1 {
		body = "1 new photo awaiting approval"
	}

	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		Payload: payload.NewPayload().
			AlertTitle(eventName).
			AlertBody(body).
			Sound("default").
			Custom("type", "pending_approval"),
	}

	res, err := a.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}
