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

const listingColumns = `id, source, post_id, group_handle, post_url, author, raw_text, images, posted_at,
	price, location, surface, rooms, property_type, furnished, confidence_score,
	is_valid, ai_enriched, enriched_at, matched_at, sent_to_users, created_at`

type ListingStore struct {
	db *sql.DB
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var (
		l          models.Listing
		group      sql.NullString
		postURL    sql.NullString
		author     sql.NullString
		postedAt   sql.NullTime
		price      sql.NullFloat64
		location   sql.NullString
		surface    sql.NullFloat64
		rooms      sql.NullInt64
		ptype      sql.NullString
		furnished  sql.NullBool
		confidence sql.NullFloat64
		enrichedAt sql.NullTime
		matchedAt  sql.NullTime
	)
	if err := row.Scan(
		&l.ID, &l.Source, &l.PostID, &group, &postURL, &author, &l.RawText, pq.Array(&l.Images), &postedAt,
		&price, &location, &surface, &rooms, &ptype, &furnished, &confidence,
		&l.IsValid, &l.AIEnriched, &enrichedAt, &matchedAt, pq.Array(&l.SentToUsers), &l.CreatedAt,
	); err != nil {
		return nil, err
	}

	l.GroupHandle, l.PostURL, l.Author = group.String, postURL.String, author.String
	l.PostedAt = timePtr(postedAt)
	l.Price = floatPtr(price)
	l.Location = stringPtr(location)
	l.Surface = floatPtr(surface)
	l.Rooms = intPtr(rooms)
	if ptype.Valid {
		t := models.PropertyType(ptype.String)
		l.PropertyType = &t
	}
	l.Furnished = boolPtr(furnished)
	l.ConfidenceScore = floatPtr(confidence)
	l.EnrichedAt = timePtr(enrichedAt)
	l.MatchedAt = timePtr(matchedAt)
	return &l, nil
}

func (s *ListingStore) InsertIfAbsent(ctx context.Context, l *models.Listing) (bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now()
	}
	l.SentToUsers = nonNil(l.SentToUsers)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, source, post_id, group_handle, post_url, author, raw_text, images, posted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source, post_id) DO NOTHING`,
		l.ID, l.Source, l.PostID, nullText(l.GroupHandle), nullText(l.PostURL), nullText(l.Author),
		l.RawText, pq.Array(nonNil(l.Images)), nullTime(l.PostedAt), l.CreatedAt)
	if err != nil {
		return false, dbErr("listings.insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("listings.insert", err)
	}
	return n == 1, nil
}

func (s *ListingStore) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	l, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, dbErr("listings.get", err)
	}
	return l, nil
}

func (s *ListingStore) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return out, nil
}

func (s *ListingStore) ListUnenriched(ctx context.Context, limit int) ([]*models.Listing, error) {
	return s.list(ctx, "listings.list_unenriched",
		`SELECT `+listingColumns+` FROM listings WHERE ai_enriched = FALSE ORDER BY created_at LIMIT $1`, limit)
}

func (s *ListingStore) ApplyEnrichment(ctx context.Context, id string, ext *models.Extraction, valid bool, at time.Time) (bool, error) {
	var ptype sql.NullString
	if ext.PropertyType != nil {
		ptype = sql.NullString{String: string(*ext.PropertyType), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
		    price = $2, location = $3, surface = $4, rooms = $5, property_type = $6, furnished = $7,
		    confidence_score = $8, is_valid = $9, ai_enriched = TRUE, enriched_at = $10
		WHERE id = $1 AND ai_enriched = FALSE`,
		id, nullFloat(ext.Price), nullString(ext.Location), nullFloat(ext.Surface), nullInt(ext.Rooms),
		ptype, nullBool(ext.Furnished), ext.Confidence, valid, at)
	if err != nil {
		return false, dbErr("listings.apply_enrichment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("listings.apply_enrichment", err)
	}
	return n == 1, nil
}

func (s *ListingStore) ListEligible(ctx context.Context, since time.Time, limit int) ([]*models.Listing, error) {
	return s.list(ctx, "listings.list_eligible", `SELECT `+listingColumns+` FROM listings
		WHERE is_valid AND ai_enriched AND matched_at IS NULL AND enriched_at >= $1
		ORDER BY enriched_at LIMIT $2`, since, limit)
}

func (s *ListingStore) MarkMatched(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET matched_at = COALESCE(matched_at, $2) WHERE id = $1`, id, at)
	return affected("listings.mark_matched", res, err)
}

// AppendSentTo is a single conditional UPDATE, so concurrent appends of the
// same user cannot produce duplicates.
func (s *ListingStore) AppendSentTo(ctx context.Context, listingID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET sent_to_users = array_append(sent_to_users, $2)
		WHERE id = $1 AND NOT ($2 = ANY(sent_to_users))`, listingID, userID)
	if err != nil {
		return dbErr("listings.append_sent_to", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("listings.append_sent_to", err)
	}
	if n == 0 {
		// Either missing or already present; only the former is an error.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil {
			return dbErr("listings.append_sent_to", err)
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}
