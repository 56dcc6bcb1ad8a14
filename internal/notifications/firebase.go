package notifications

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseClient sends push notifications through Firebase Cloud Messaging
type FirebaseClient struct {
	client *messaging.Client
}

// NewFirebaseClient creates an FCM client from a service account file.
// With an empty path the application default credentials are used.
func NewFirebaseClient(ctx context.Context, credentialsPath string) (*FirebaseClient, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return &FirebaseClient{client: client}, nil
}

// SendPush sends a high-priority notification to one device.
func (f *FirebaseClient) SendPush(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	response, err := f.client.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("failed to send push notification: %w", err)
	}
	return response, nil
}
