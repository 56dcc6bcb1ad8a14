package notifications

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioClient sends SMS through the Twilio REST API
type TwilioClient struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewTwilioClient creates a Twilio SMS client
func NewTwilioClient(accountSid, authToken, fromNumber string) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &TwilioClient{
		client:     client,
		fromNumber: fromNumber,
	}
}

// SendSMS sends one SMS message
func (t *TwilioClient) SendSMS(to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.fromNumber)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("no message SID returned")
	}
	return *resp.Sid, nil
}
