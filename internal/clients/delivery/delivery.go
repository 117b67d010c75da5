// Package delivery implements the outbound chat channels.
package delivery

import (
	"context"
	"errors"

	apperrors "immo-alerts/internal/common/errors"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

func deliveryError(channel string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewDeliveryTimeoutError(channel, err)
	}
	return apperrors.NewDeliveryFailedError(channel, err)
}
