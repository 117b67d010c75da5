// Package postgres implements the store contracts on lib/pq. Uniqueness of
// (source, post_id) and (user_id, listing_id) is enforced by constraints and
// inserts use ON CONFLICT DO NOTHING, so concurrent passes cannot duplicate rows.
package postgres

import (
	"context"
	"database/sql"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/store"
)

// Schema is applied by Migrate. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  UUID PRIMARY KEY,
    phone               TEXT NOT NULL UNIQUE,
    name                TEXT,
    conversation_state  TEXT NOT NULL DEFAULT 'IDLE',
    is_active           BOOLEAN NOT NULL DEFAULT FALSE,
    last_interaction_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS criteria (
    user_id       UUID PRIMARY KEY REFERENCES users(id),
    property_type TEXT NOT NULL DEFAULT 'BOTH',
    min_price     DOUBLE PRECISION,
    max_price     DOUBLE PRECISION,
    locations     TEXT[] NOT NULL DEFAULT '{}',
    min_rooms     INTEGER,
    max_rooms     INTEGER,
    min_surface   DOUBLE PRECISION,
    max_surface   DOUBLE PRECISION,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
    id               UUID PRIMARY KEY,
    source           TEXT NOT NULL,
    post_id          TEXT NOT NULL,
    group_handle     TEXT,
    post_url         TEXT,
    author           TEXT,
    raw_text         TEXT NOT NULL,
    images           TEXT[] NOT NULL DEFAULT '{}',
    posted_at        TIMESTAMPTZ,
    price            DOUBLE PRECISION,
    location         TEXT,
    surface          DOUBLE PRECISION,
    rooms            INTEGER,
    property_type    TEXT,
    furnished        BOOLEAN,
    confidence_score DOUBLE PRECISION,
    is_valid         BOOLEAN NOT NULL DEFAULT FALSE,
    ai_enriched      BOOLEAN NOT NULL DEFAULT FALSE,
    enriched_at      TIMESTAMPTZ,
    matched_at       TIMESTAMPTZ,
    sent_to_users    TEXT[] NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (source, post_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_unenriched ON listings (created_at) WHERE ai_enriched = FALSE;
ALTER TABLE listings ADD COLUMN IF NOT EXISTS matched_at TIMESTAMPTZ;
DROP INDEX IF EXISTS idx_listings_eligible;
CREATE INDEX IF NOT EXISTS idx_listings_pending_match ON listings (enriched_at)
    WHERE is_valid AND ai_enriched AND matched_at IS NULL;

CREATE TABLE IF NOT EXISTS matches (
    id            UUID PRIMARY KEY,
    user_id       UUID NOT NULL REFERENCES users(id),
    listing_id    UUID NOT NULL REFERENCES listings(id),
    score         DOUBLE PRECISION NOT NULL,
    reasons       TEXT[] NOT NULL DEFAULT '{}',
    is_notified   BOOLEAN NOT NULL DEFAULT FALSE,
    notified_at   TIMESTAMPTZ,
    is_viewed     BOOLEAN NOT NULL DEFAULT FALSE,
    is_interested BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, listing_id)
);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id         TEXT PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users(id),
    direction  TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_turns_user ON conversation_turns (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
    id          UUID PRIMARY KEY,
    match_id    UUID NOT NULL REFERENCES matches(id),
    user_id     UUID NOT NULL,
    listing_id  UUID NOT NULL,
    channel     TEXT NOT NULL,
    status      TEXT NOT NULL,
    body        TEXT NOT NULL,
    images_sent INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables and indexes when absent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return apperrors.NewDatabaseQueryFailedError("migrate", err)
	}
	return nil
}

// New returns a store set on db.
func New(db *sql.DB) store.Set {
	return store.Set{
		Users:         &UserStore{db: db},
		Criteria:      &CriteriaStore{db: db},
		Listings:      &ListingStore{db: db},
		Matches:       &MatchStore{db: db},
		Turns:         &TurnStore{db: db},
		Notifications: &NotificationStore{db: db},
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func dbErr(op string, err error) error {
	return apperrors.NewDatabaseQueryFailedError(op, err)
}

// affected maps a zero-row update to store.ErrNotFound.
func affected(op string, res sql.Result, err error) error {
	if err != nil {
		return dbErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func boolPtr(n sql.NullBool) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Bool
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}
