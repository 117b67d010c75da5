package delivery

import (
	"context"
	"strings"

	"immo-alerts/internal/common/logger"
)

// maxSMSLength is the SNS limit for a single (multi-part) SMS.
const maxSMSLength = 1600

// SMSClient is satisfied by *aws.SNSClient.
type SMSClient interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// SMSSender delivers through Amazon SNS. Images are sent as links.
type SMSSender struct {
	client SMSClient
	logger logger.Logger
}

func NewSMSSender(client SMSClient, log logger.Logger) *SMSSender {
	return &SMSSender{client: client, logger: log.WithFields(map[string]interface{}{"component": "sms"})}
}

func (s *SMSSender) Channel() string { return ChannelSMS }

func (s *SMSSender) SendText(ctx context.Context, to, body string) error {
	return s.send(ctx, to, body)
}

func (s *SMSSender) SendImage(ctx context.Context, to, imageURL, caption string) error {
	body := "📷 " + imageURL
	if caption = strings.TrimSpace(caption); caption != "" {
		body = caption + "\n" + body
	}
	return s.send(ctx, to, body)
}

func (s *SMSSender) send(ctx context.Context, to, body string) error {
	if r := []rune(body); len(r) > maxSMSLength {
		body = string(r[:maxSMSLength-3]) + "..."
	}
	id, err := s.client.SendSMS(ctx, to, body)
	if err != nil {
		return deliveryError(ChannelSMS, err)
	}
	s.logger.Debug("sms published", map[string]interface{}{"to": logger.MaskPhone(to), "messageId": id})
	return nil
}
