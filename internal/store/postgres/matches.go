package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"immo-alerts/internal/models"
	"immo-alerts/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const matchColumns = `id, user_id, listing_id, score, reasons, is_notified, notified_at, is_viewed, is_interested, created_at`

type MatchStore struct {
	db *sql.DB
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m          models.Match
		notifiedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.ListingID, &m.Score, pq.Array(&m.Reasons),
		&m.IsNotified, &notifiedAt, &m.IsViewed, &m.IsInterested, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.NotifiedAt = timePtr(notifiedAt)
	return &m, nil
}

func (s *MatchStore) CreateIfAbsent(ctx context.Context, m *models.Match) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, user_id, listing_id, score, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, listing_id) DO NOTHING`,
		m.ID, m.UserID, m.ListingID, m.Score, pq.Array(nonNil(m.Reasons)), m.CreatedAt)
	if err != nil {
		return false, dbErr("matches.create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("matches.create", err)
	}
	return n == 1, nil
}

func (s *MatchStore) getOne(ctx context.Context, op, where string, args ...interface{}) (*models.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, dbErr(op, err)
	}
	return m, nil
}

func (s *MatchStore) Get(ctx context.Context, id string) (*models.Match, error) {
	return s.getOne(ctx, "matches.get", "id = $1", id)
}

func (s *MatchStore) GetByPair(ctx context.Context, userID, listingID string) (*models.Match, error) {
	return s.getOne(ctx, "matches.get_by_pair", "user_id = $1 AND listing_id = $2", userID, listingID)
}

func (s *MatchStore) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET is_notified = TRUE, notified_at = $2 WHERE id = $1 AND is_notified = FALSE`, id, at)
	if err != nil {
		return false, dbErr("matches.mark_notified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("matches.mark_notified", err)
	}
	return n == 1, nil
}

func (s *MatchStore) MarkViewed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE matches SET is_viewed = TRUE WHERE id = $1`, id)
	return affected("matches.mark_viewed", res, err)
}

func (s *MatchStore) MarkInterested(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE matches SET is_viewed = TRUE, is_interested = TRUE WHERE id = $1`, id)
	return affected("matches.mark_interested", res, err)
}
