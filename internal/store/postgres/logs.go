package postgres

import (
	"context"
	"database/sql"

	"immo-alerts/internal/models"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type TurnStore struct {
	db *sql.DB
}

// Append assigns a ULID so ids sort in arrival order.
func (s *TurnStore) Append(ctx context.Context, t *models.ConversationTurn) error {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, user_id, direction, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, string(t.Direction), t.Content, t.CreatedAt)
	if err != nil {
		return dbErr("turns.append", err)
	}
	return nil
}

func (s *TurnStore) ListRecent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, direction, content, created_at FROM conversation_turns
		WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, dbErr("turns.list_recent", err)
	}
	defer rows.Close()

	var out []models.ConversationTurn
	for rows.Next() {
		var (
			t   models.ConversationTurn
			dir string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &dir, &t.Content, &t.CreatedAt); err != nil {
			return nil, dbErr("turns.list_recent", err)
		}
		t.Direction = models.Direction(dir)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("turns.list_recent", err)
	}
	return out, nil
}

type NotificationStore struct {
	db *sql.DB
}

func (s *NotificationStore) Record(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, match_id, user_id, listing_id, channel, status, body, images_sent, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.MatchID, n.UserID, n.ListingID, n.Channel, n.Status, n.Body, n.ImagesSent, nullText(n.Error), n.CreatedAt)
	if err != nil {
		return dbErr("notifications.record", err)
	}
	return nil
}

func (s *NotificationStore) ListByMatch(ctx context.Context, matchID string) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, user_id, listing_id, channel, status, body, images_sent, error, created_at
		FROM notifications WHERE match_id = $1 ORDER BY created_at`, matchID)
	if err != nil {
		return nil, dbErr("notifications.list", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n       models.Notification
			errText sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.MatchID, &n.UserID, &n.ListingID, &n.Channel, &n.Status, &n.Body,
			&n.ImagesSent, &errText, &n.CreatedAt); err != nil {
			return nil, dbErr("notifications.list", err)
		}
		n.Error = errText.String
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("notifications.list", err)
	}
	return out, nil
}
