package delivery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apphttp "immo-alerts/internal/common/http"
	"immo-alerts/internal/common/logger"
)

// WhatsAppSender posts messages to a WhatsApp Cloud style API.
type WhatsAppSender struct {
	http     *apphttp.Client
	endpoint string
	logger   logger.Logger
}

func NewWhatsAppSender(baseURL, phoneNumberID, accessToken string, timeout time.Duration, log logger.Logger) *WhatsAppSender {
	c := apphttp.NewClient(timeout).WithHeader("Authorization", "Bearer "+accessToken)
	return &WhatsAppSender{
		http:     c,
		endpoint: fmt.Sprintf("%s/%s/messages", strings.TrimRight(baseURL, "/"), phoneNumberID),
		logger:   log.WithFields(map[string]interface{}{"component": "whatsapp"}),
	}
}

func (s *WhatsAppSender) Channel() string { return ChannelWhatsApp }

type waText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type waImage struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type waMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *waText  `json:"text,omitempty"`
	Image            *waImage `json:"image,omitempty"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *WhatsAppSender) SendText(ctx context.Context, to, body string) error {
	return s.send(ctx, waMessage{
		MessagingProduct: "whatsapp",
		To:               recipient(to),
		Type:             "text",
		Text:             &waText{Body: body, PreviewURL: true},
	})
}

func (s *WhatsAppSender) SendImage(ctx context.Context, to, imageURL, caption string) error {
	return s.send(ctx, waMessage{
		MessagingProduct: "whatsapp",
		To:               recipient(to),
		Type:             "image",
		Image:            &waImage{Link: imageURL, Caption: caption},
	})
}

func (s *WhatsAppSender) send(ctx context.Context, msg waMessage) error {
	var resp waResponse
	if err := s.http.DoJSON(ctx, http.MethodPost, s.endpoint, msg, &resp); err != nil {
		return deliveryError(ChannelWhatsApp, err)
	}
	id := ""
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	s.logger.Debug("message accepted", map[string]interface{}{
		"to":        logger.MaskPhone(msg.To),
		"type":      msg.Type,
		"messageId": id,
	})
	return nil
}

// recipient drops the leading "+"; the API expects bare digits.
func recipient(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}
