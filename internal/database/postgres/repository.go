package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tinyscale/tinylink/internal/database"
	"github.com/tinyscale/tinylink/internal/models"
)

type shortURLRecord struct {
	Hash       string         `db:"hash"`
	Target     string         `db:"target"`
	LeftUses   sql.NullInt64  `db:"left_uses"`
	Expiration sql.NullTime   `db:"expiration"`
	Validation string         `db:"validation"`
	CreatedAt  time.Time      `db:"created_at"`
	IP         sql.NullString `db:"ip"`
	Sponsor    sql.NullString `db:"sponsor"`
}

func (r *shortURLRecord) ToShortURL() *models.ShortURL {
	url := &models.ShortURL{
		Key:        r.Hash,
		TargetURL:  r.Target,
		Validation: models.ValidationState(r.Validation),
		CreatedAt:  r.CreatedAt,
		OwnerIP:    r.IP.String,
		Sponsor:    r.Sponsor.String,
	}

	if r.LeftUses.Valid {
		leftUses := r.LeftUses.Int64
		url.LeftUses = &leftUses
	}
	if r.Expiration.Valid {
		expiresAt := r.Expiration.Time
		url.ExpiresAt = &expiresAt
	}

	return url
}

// ShortURLRepository persists short URL records. It is the only owner of
// mutable record state: use consumption, validation transitions and deletion
// all happen as single conditional statements against the database, so
// concurrent redirects never operate on stale in-memory counters.
type ShortURLRepository struct {
	db *sqlx.DB
}

func NewShortURLRepository(db *sqlx.DB) *ShortURLRepository {
	return &ShortURLRepository{
		db: db,
	}
}

// Save inserts a new short URL record.
func (r *ShortURLRepository) Save(ctx context.Context, url *models.ShortURL) (*models.ShortURL, error) {
	const op = "database.postgres.ShortURLRepository.Save"

	rec := new(shortURLRecord)
	query := `INSERT INTO shorturl(hash, target, left_uses, expiration, validation, ip, sponsor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query,
		url.Key, url.TargetURL, url.LeftUses, url.ExpiresAt,
		string(url.Validation), url.OwnerIP, url.Sponsor)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortURLExists)
		}

		return nil, fmt.Errorf("%s: failed to save short url record: %w", op, err)
	}

	return rec.ToShortURL(), nil
}

// FindByKey returns the record stored under key.
func (r *ShortURLRepository) FindByKey(ctx context.Context, key string) (*models.ShortURL, error) {
	const op = "database.postgres.ShortURLRepository.FindByKey"

	rec := new(shortURLRecord)
	query := `SELECT * FROM shorturl WHERE hash = $1`

	err := r.db.GetContext(ctx, rec, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short url record: %w", op, err)
	}

	return rec.ToShortURL(), nil
}

// ConsumeUse atomically spends one use of the record. Records with unlimited
// uses always report success. Records whose counter is already at zero, and
// unknown keys, report false without modifying anything. The whole check is a
// single conditional UPDATE, so two racing redirects can never both consume
// the last use.
func (r *ShortURLRepository) ConsumeUse(ctx context.Context, key string) (bool, error) {
	const op = "database.postgres.ShortURLRepository.ConsumeUse"

	query := `UPDATE shorturl
		SET left_uses = CASE WHEN left_uses IS NULL THEN NULL ELSE left_uses - 1 END
		WHERE hash = $1 AND (left_uses IS NULL OR left_uses > 0)`

	res, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("%s: failed to consume use: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows > 0, nil
}

// SetValidation transitions the record's validation state, but only out of
// PENDING. It reports whether the transition was applied, so two racing
// validation results cannot overwrite each other's terminal state.
func (r *ShortURLRepository) SetValidation(ctx context.Context, key string, state models.ValidationState) (bool, error) {
	const op = "database.postgres.ShortURLRepository.SetValidation"

	query := `UPDATE shorturl
		SET validation = $2
		WHERE hash = $1 AND validation = $3`

	res, err := r.db.ExecContext(ctx, query, key, string(state), string(models.ValidationPending))
	if err != nil {
		return false, fmt.Errorf("%s: failed to set validation state: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows > 0, nil
}

// DeleteByKey removes the record stored under key. Absence of the key is not
// an error, so the lazy redirect-path cleanup and the sweeper may race on the
// same key safely.
func (r *ShortURLRepository) DeleteByKey(ctx context.Context, key string) error {
	const op = "database.postgres.ShortURLRepository.DeleteByKey"

	query := `DELETE FROM shorturl WHERE hash = $1`

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("%s: failed to delete short url record: %w", op, err)
	}

	return nil
}

// DeleteExpiredByDate bulk-deletes all records whose expiration lies before
// now and returns the number of records removed.
func (r *ShortURLRepository) DeleteExpiredByDate(ctx context.Context, now time.Time) (int64, error) {
	const op = "database.postgres.ShortURLRepository.DeleteExpiredByDate"

	query := `DELETE FROM shorturl WHERE expiration IS NOT NULL AND expiration < $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete expired records: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows, nil
}

// DeleteExhausted bulk-deletes all records whose use counter has reached zero
// and returns the number of records removed.
func (r *ShortURLRepository) DeleteExhausted(ctx context.Context) (int64, error) {
	const op = "database.postgres.ShortURLRepository.DeleteExhausted"

	query := `DELETE FROM shorturl WHERE left_uses = 0`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete exhausted records: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows, nil
}

// ClickRepository appends click log entries. Entries are never updated or
// deleted here.
type ClickRepository struct {
	db *sqlx.DB
}

func NewClickRepository(db *sqlx.DB) *ClickRepository {
	return &ClickRepository{
		db: db,
	}
}

// Save appends a click record for the given key.
func (r *ClickRepository) Save(ctx context.Context, click *models.Click) error {
	const op = "database.postgres.ClickRepository.Save"

	query := `INSERT INTO click(hash, created_at, ip) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, click.Key, click.CreatedAt, click.IP); err != nil {
		return fmt.Errorf("%s: failed to save click record: %w", op, err)
	}

	return nil
}
