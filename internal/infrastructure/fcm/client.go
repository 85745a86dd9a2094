// Package fcm sends push alerts through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"scalper-backend/internal/config"
	"scalper-backend/internal/infrastructure/logger"
)

const channelID = "scalper_alerts"

// multicastLimit is the most tokens FCM accepts in one multicast.
const multicastLimit = 500

type Client struct {
	client *messaging.Client
	log    *zap.Logger
}

// NewClient initializes messaging from a credentials file or inline JSON.
// Without either, it returns a disabled client.
func NewClient(ctx context.Context, cfg config.AlertConfig, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log).Named("fcm")

	var opt option.ClientOption
	switch {
	case cfg.CredentialsPath != "":
		opt = option.WithCredentialsFile(cfg.CredentialsPath)
	case cfg.CredentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))
	default:
		log.Warn("no firebase credentials, push alerts disabled")
		return &Client{log: log}, nil
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	log.Info("firebase cloud messaging initialized")
	return &Client{client: client, log: log}, nil
}

// IsEnabled returns true if the messaging client is initialized.
func (c *Client) IsEnabled() bool {
	return c != nil && c.client != nil
}

// SendMulticast sends one notification to every token, in chunks FCM accepts.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if !c.IsEnabled() {
		return fmt.Errorf("fcm client not initialized")
	}
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		resp, err := c.client.SendEachForMulticast(ctx, message(tokens[start:end], title, body, data))
		if err != nil {
			return fmt.Errorf("send multicast: %w", err)
		}
		c.log.Info("multicast sent",
			zap.String("title", title), zap.Int("success", resp.SuccessCount), zap.Int("failure", resp.FailureCount))
	}
	return nil
}

func message(tokens []string, title, body string, data map[string]string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: channelID,
				Priority:  messaging.PriorityHigh,
			},
		},
	}
}
