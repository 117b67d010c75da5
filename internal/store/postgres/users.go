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

const userColumns = `id, phone, name, conversation_state, is_active, last_interaction_at, created_at, updated_at, deleted_at`

type UserStore struct {
	db *sql.DB
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		name      sql.NullString
		lastSeen  sql.NullTime
		deletedAt sql.NullTime
		state     string
	)
	if err := row.Scan(&u.ID, &u.Phone, &name, &state, &u.IsActive, &lastSeen, &u.CreatedAt, &u.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	u.Name = name.String
	u.State = models.ConversationState(state)
	u.LastInteractionAt = timePtr(lastSeen)
	u.DeletedAt = timePtr(deletedAt)
	return &u, nil
}

func (s *UserStore) getOne(ctx context.Context, op, where string, arg interface{}) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` AND deleted_at IS NULL`, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, dbErr(op, err)
	}
	return u, nil
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getOne(ctx, "users.get_by_phone", "phone = $1", phone)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getOne(ctx, "users.get_by_id", "id = $1", id)
}

// Create reactivates a soft-deleted row in the same statement; a live row
// with the same phone yields store.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.State = models.StateIdle
	user.IsActive = false
	ts := now()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, phone, name, conversation_state, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		ON CONFLICT (phone) DO UPDATE
		    SET deleted_at = NULL, conversation_state = EXCLUDED.conversation_state,
		        is_active = FALSE, updated_at = EXCLUDED.updated_at
		    WHERE users.deleted_at IS NOT NULL
		RETURNING id, created_at, updated_at`,
		user.ID, user.Phone, nullText(user.Name), string(user.State), ts)

	err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return dbErr("users.create", err)
	}
	user.DeletedAt = nil
	return nil
}

func (s *UserStore) UpdateState(ctx context.Context, id string, state models.ConversationState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET conversation_state = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, string(state), now())
	return affected("users.update_state", res, err)
}

func (s *UserStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, active, now())
	return affected("users.set_active", res, err)
}

func (s *UserStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_interaction_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
	return affected("users.touch", res, err)
}

func (s *UserStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
	return affected("users.soft_delete", res, err)
}

func (s *UserStore) ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.phone, u.name, u.conversation_state, u.is_active, u.last_interaction_at,
		       u.created_at, u.updated_at, u.deleted_at,
		       c.property_type, c.min_price, c.max_price, c.locations,
		       c.min_rooms, c.max_rooms, c.min_surface, c.max_surface, c.updated_at
		FROM users u
		JOIN criteria c ON c.user_id = u.id
		WHERE u.is_active AND u.deleted_at IS NULL
		ORDER BY u.created_at`)
	if err != nil {
		return nil, dbErr("users.list_active", err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var (
			sub       models.Subscriber
			name      sql.NullString
			lastSeen  sql.NullTime
			deletedAt sql.NullTime
			state     string
			ptype     string
			minPrice  sql.NullFloat64
			maxPrice  sql.NullFloat64
			minRooms  sql.NullInt64
			maxRooms  sql.NullInt64
			minSurf   sql.NullFloat64
			maxSurf   sql.NullFloat64
		)
		u := &sub.User
		c := &sub.Criteria
		if err := rows.Scan(
			&u.ID, &u.Phone, &name, &state, &u.IsActive, &lastSeen, &u.CreatedAt, &u.UpdatedAt, &deletedAt,
			&ptype, &minPrice, &maxPrice, pq.Array(&c.Locations),
			&minRooms, &maxRooms, &minSurf, &maxSurf, &c.UpdatedAt,
		); err != nil {
			return nil, dbErr("users.list_active", err)
		}
		u.Name = name.String
		u.State = models.ConversationState(state)
		u.LastInteractionAt = timePtr(lastSeen)
		u.DeletedAt = timePtr(deletedAt)
		c.UserID = u.ID
		c.PropertyType = models.PropertyType(ptype)
		c.MinPrice, c.MaxPrice = floatPtr(minPrice), floatPtr(maxPrice)
		c.MinRooms, c.MaxRooms = intPtr(minRooms), intPtr(maxRooms)
		c.MinSurface, c.MaxSurface = floatPtr(minSurf), floatPtr(maxSurf)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("users.list_active", err)
	}
	return out, nil
}

type CriteriaStore struct {
	db *sql.DB
}

func (s *CriteriaStore) Get(ctx context.Context, userID string) (*models.Criteria, error) {
	var (
		c        = models.Criteria{UserID: userID}
		ptype    string
		minPrice sql.NullFloat64
		maxPrice sql.NullFloat64
		minRooms sql.NullInt64
		maxRooms sql.NullInt64
		minSurf  sql.NullFloat64
		maxSurf  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT property_type, min_price, max_price, locations, min_rooms, max_rooms, min_surface, max_surface, updated_at
		FROM criteria WHERE user_id = $1`, userID).
		Scan(&ptype, &minPrice, &maxPrice, pq.Array(&c.Locations), &minRooms, &maxRooms, &minSurf, &maxSurf, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, dbErr("criteria.get", err)
	}

	c.PropertyType = models.PropertyType(ptype)
	c.MinPrice, c.MaxPrice = floatPtr(minPrice), floatPtr(maxPrice)
	c.MinRooms, c.MaxRooms = intPtr(minRooms), intPtr(maxRooms)
	c.MinSurface, c.MaxSurface = floatPtr(minSurf), floatPtr(maxSurf)
	return &c, nil
}

// Replace upserts every column so no field from a previous pass survives.
func (s *CriteriaStore) Replace(ctx context.Context, c *models.Criteria) error {
	c.UpdatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO criteria (user_id, property_type, min_price, max_price, locations, min_rooms, max_rooms, min_surface, max_surface, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
		    property_type = EXCLUDED.property_type,
		    min_price = EXCLUDED.min_price,
		    max_price = EXCLUDED.max_price,
		    locations = EXCLUDED.locations,
		    min_rooms = EXCLUDED.min_rooms,
		    max_rooms = EXCLUDED.max_rooms,
		    min_surface = EXCLUDED.min_surface,
		    max_surface = EXCLUDED.max_surface,
		    updated_at = EXCLUDED.updated_at`,
		c.UserID, string(c.PropertyType), nullFloat(c.MinPrice), nullFloat(c.MaxPrice), pq.Array(nonNil(c.Locations)),
		nullInt(c.MinRooms), nullInt(c.MaxRooms), nullFloat(c.MinSurface), nullFloat(c.MaxSurface), c.UpdatedAt)
	if err != nil {
		return dbErr("criteria.replace", err)
	}
	return nil
}
