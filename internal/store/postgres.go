package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akash/amount-extractor/backend/internal/models"
)

// PostgresStore handles user and result CRUD against PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the users and results tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			username      VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at    TIMESTAMPTZ  DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT NOT NULL REFERENCES users(id),
			pipeline   JSONB  NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

// CreateUser inserts a user row. The error is returned unwrapped because the
// signup handler surfaces its text to the caller verbatim.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, username, created_at`,
		username, passwordHash,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash
	return &u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertResult records a processing result against its owning user.
func (s *PostgresStore) InsertResult(ctx context.Context, userID int64, pipeline json.RawMessage) (*models.Result, error) {
	r := models.Result{UserID: userID, Pipeline: pipeline}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO results (user_id, pipeline)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		userID, []byte(pipeline),
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResultsByUser returns the user's results, newest first.
func (s *PostgresStore) ListResultsByUser(ctx context.Context, userID int64) ([]models.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, pipeline, created_at
		 FROM results
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var r models.Result
		if err := rows.Scan(&r.ID, &r.UserID, &r.Pipeline, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
