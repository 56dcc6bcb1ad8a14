package notifications

import "context"

// PushSender delivers one push notification and returns the provider
// message id.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

// SMSSender delivers one SMS message and returns the provider message id.
type SMSSender interface {
	SendSMS(to, body string) (string, error)
}
