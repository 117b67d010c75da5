// Package notify turns a match into one outbound alert.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"
	"immo-alerts/internal/models"
	"immo-alerts/internal/scoring"
	"immo-alerts/internal/store"
)

// Sender is the outbound chat channel.
type Sender interface {
	Channel() string
	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to, imageURL, caption string) error
}

// Personalizer writes a custom alert text for a match.
type Personalizer interface {
	Personalize(ctx context.Context, user *models.User, listing *models.Listing, match *models.Match) (string, error)
}

type Config struct {
	MaxImages       int
	AIPersonalise   bool
	AITimeout       time.Duration
	DeliveryTimeout time.Duration
}

type Dispatcher struct {
	users         store.UserStore
	listings      store.ListingStore
	matches       store.MatchStore
	notifications store.NotificationStore
	turns         store.TurnStore
	sender        Sender
	personalizer  Personalizer
	config        Config
	logger        logger.Logger
	now           func() time.Time
}

// NewDispatcher builds a dispatcher. personalizer may be nil.
func NewDispatcher(stores store.Set, sender Sender, personalizer Personalizer, cfg Config, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		users:         stores.Users,
		listings:      stores.Listings,
		matches:       stores.Matches,
		notifications: stores.Notifications,
		turns:         stores.Turns,
		sender:        sender,
		personalizer:  personalizer,
		config:        cfg,
		logger:        log.WithFields(map[string]interface{}{"component": "notify"}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Notify sends the alert text then up to MaxImages images. An already
// notified match is a no-op. Only a failure of the text delivery is returned.
func (d *Dispatcher) Notify(ctx context.Context, match *models.Match) error {
	if match.IsNotified {
		return nil
	}
	current, err := d.matches.Get(ctx, match.ID)
	if err != nil {
		return err
	}
	if current.IsNotified {
		match.IsNotified, match.NotifiedAt = true, current.NotifiedAt
		return nil
	}

	user, err := d.users.GetByID(ctx, match.UserID)
	if err != nil {
		return err
	}
	// Paused users and users re-entering criteria keep isActive but receive nothing.
	if !user.IsActive || user.State != models.StateActive {
		return apperrors.NewRecipientInactiveError(user.ID)
	}

	listing, err := d.listings.GetByID(ctx, match.ListingID)
	if err != nil {
		return err
	}

	log := d.logger.WithFields(map[string]interface{}{
		"matchId":   match.ID,
		"listingId": listing.ID,
		"to":        logger.MaskPhone(user.Phone),
	})
	channel := d.sender.Channel()
	body := d.buildMessage(ctx, user, listing, current, log)

	if err := d.send(ctx, func(ctx context.Context) error {
		return d.sender.SendText(ctx, user.Phone, body)
	}); err != nil {
		stdErr := classifyDeliveryError(channel, err)
		d.record(ctx, current, channel, models.NotificationStatusFailed, body, 0, stdErr.Error(), log)
		metrics.NotificationsSent.WithLabelValues(channel, models.NotificationStatusFailed).Inc()
		log.Warn("alert delivery failed", map[string]interface{}{"errorCode": stdErr.Code, "error": err})
		return stdErr
	}

	at := d.now()
	marked, err := d.matches.MarkNotified(ctx, match.ID, at)
	if err != nil {
		log.Error("alert sent but match not marked notified", map[string]interface{}{"error": err})
	} else if !marked {
		log.Warn("match was notified concurrently", nil)
	}
	match.IsNotified, match.NotifiedAt = true, &at

	imagesSent := d.sendImages(ctx, user.Phone, listing, log)

	d.record(ctx, current, channel, models.NotificationStatusSent, body, imagesSent, "", log)
	if err := d.turns.Append(ctx, &models.ConversationTurn{
		UserID:    user.ID,
		Direction: models.DirectionOut,
		Content:   body,
	}); err != nil {
		log.Warn("failed to log outbound turn", map[string]interface{}{"error": err})
	}
	metrics.NotificationsSent.WithLabelValues(channel, models.NotificationStatusSent).Inc()
	metrics.ConversationMessages.WithLabelValues(string(models.DirectionOut)).Inc()

	log.Info("alert delivered", map[string]interface{}{"score": current.Score, "imagesSent": imagesSent})
	return nil
}

// sendImages sends each image independently; failures are logged and skipped.
func (d *Dispatcher) sendImages(ctx context.Context, to string, listing *models.Listing, log logger.Logger) int {
	sent := 0
	for i, url := range listing.Images {
		if i >= d.config.MaxImages {
			break
		}
		caption := ""
		if i == 0 && listing.PostURL != "" {
			caption = listing.PostURL
		}
		if err := d.send(ctx, func(ctx context.Context) error {
			return d.sender.SendImage(ctx, to, url, caption)
		}); err != nil {
			log.Warn("image delivery failed", map[string]interface{}{"image": i, "error": err})
			continue
		}
		sent++
	}
	return sent
}

func (d *Dispatcher) send(ctx context.Context, fn func(context.Context) error) error {
	if d.config.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.DeliveryTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (d *Dispatcher) record(ctx context.Context, m *models.Match, channel, status, body string, images int, errText string, log logger.Logger) {
	err := d.notifications.Record(ctx, &models.Notification{
		MatchID:    m.ID,
		UserID:     m.UserID,
		ListingID:  m.ListingID,
		Channel:    channel,
		Status:     status,
		Body:       body,
		ImagesSent: images,
		Error:      errText,
	})
	if err != nil {
		log.Warn("failed to record notification", map[string]interface{}{"error": err})
	}
}

// buildMessage tries the personalizer under its own timeout and falls back to
// the static template on any failure.
func (d *Dispatcher) buildMessage(ctx context.Context, user *models.User, listing *models.Listing, match *models.Match, log logger.Logger) string {
	if d.config.AIPersonalise && d.personalizer != nil {
		aiCtx := ctx
		if d.config.AITimeout > 0 {
			var cancel context.CancelFunc
			aiCtx, cancel = context.WithTimeout(ctx, d.config.AITimeout)
			defer cancel()
		}
		text, err := d.personalizer.Personalize(aiCtx, user, listing, match)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		log.Debug("personalisation unavailable, using template", map[string]interface{}{"error": err})
	}
	return RenderTemplate(listing, match)
}

func classifyDeliveryError(channel string, err error) *apperrors.StandardError {
	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewDeliveryTimeoutError(channel, err)
	}
	return apperrors.NewDeliveryFailedError(channel, err)
}

// RenderTemplate is the static alert text. It never fails.
func RenderTemplate(l *models.Listing, m *models.Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏠 Nouvelle annonce pour vous ! (compatibilité %.0f/100)\n\n", m.Score)

	var facts []string
	if l.PropertyType != nil {
		facts = append(facts, scoring.PropertyLabel(*l.PropertyType))
	}
	if l.Price != nil {
		facts = append(facts, scoring.FormatPrice(*l.Price))
	}
	if l.Location != nil && *l.Location != "" {
		facts = append(facts, *l.Location)
	}
	if l.Surface != nil {
		facts = append(facts, fmt.Sprintf("%.0f m²", *l.Surface))
	}
	if l.Rooms != nil {
		facts = append(facts, fmt.Sprintf("%d pièces", *l.Rooms))
	}
	if len(facts) > 0 {
		sb.WriteString(strings.Join(facts, " · "))
		sb.WriteString("\n\n")
	}

	for _, r := range m.Reasons {
		sb.WriteString("✅ ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}

	if text := logger.Truncate(strings.TrimSpace(l.RawText), 280); text != "" {
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if l.PostURL != "" {
		sb.WriteString("\n👉 ")
		sb.WriteString(l.PostURL)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRépondez \"statut\" pour voir vos critères ou \"pause\" pour suspendre les alertes.")
	return sb.String()
}
