package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/tinyscale/tinylink/internal/database"
	"github.com/tinyscale/tinylink/internal/models"
)

// ErrMaxRetriesExceeded is returned when the maximum number of retries for generating a key is exceeded.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating key")

const cleanupTimeout = 5 * time.Second

// ShortURLRepository defines the store operations the service needs.
type ShortURLRepository interface {
	// Save inserts a new short URL record.
	// Returns the stored record or an error if the operation fails.
	Save(ctx context.Context, url *models.ShortURL) (*models.ShortURL, error)

	// FindByKey retrieves a short URL record by its key.
	// Returns the record if found or an error if not found.
	FindByKey(ctx context.Context, key string) (*models.ShortURL, error)

	// ConsumeUse atomically spends one use of the record.
	// Returns whether a use was spent; records with unlimited uses report true.
	ConsumeUse(ctx context.Context, key string) (bool, error)

	// DeleteByKey removes a short URL record. Absence of the key is not an error.
	DeleteByKey(ctx context.Context, key string) error
}

// ClickRepository appends click log entries for successful redirects.
type ClickRepository interface {
	Save(ctx context.Context, click *models.Click) error
}

// URLValidator runs the post-creation safety and reachability check for a
// record and persists its terminal validation state.
type URLValidator interface {
	Validate(ctx context.Context, key, target string)
}

// CreateOptions carries the optional attributes of a new short URL.
type CreateOptions struct {
	// LeftUses limits how many redirects the URL may serve. Nil means unlimited.
	LeftUses *int64
	// ExpiresAt sets the instant after which the URL is no longer served. Nil means never.
	ExpiresAt *time.Time
	// Sponsor is an optional sponsor attribution.
	Sponsor string
	// OwnerIP is the remote address the URL is created from.
	OwnerIP string
}

// URLService implements the creation and redirection lifecycle of short URLs.
// All mutable state lives in the repositories; the service only works with
// immutable record snapshots.
type URLService struct {
	shortURLs ShortURLRepository
	clicks    ClickRepository
	validator URLValidator
	keygen    KeyGenerator
	keyLength int
	logger    *slog.Logger
}

// NewURLService creates a new URLService with the provided collaborators and initial key length.
func NewURLService(
	shortURLs ShortURLRepository,
	clicks ClickRepository,
	validator URLValidator,
	keygen KeyGenerator,
	keyLength int,
	logger *slog.Logger,
) *URLService {
	return &URLService{
		shortURLs: shortURLs,
		clicks:    clicks,
		validator: validator,
		keygen:    keygen,
		keyLength: keyLength,
		logger:    logger,
	}
}

// CreateShortURL persists a new short URL for target and dispatches the
// asynchronous validation check for it. The record starts in the PENDING
// validation state; redirects against it fail until the check passes.
//
// It attempts to generate a unique key up to a maximum number of retries,
// growing the key length on each collision.
func (s *URLService) CreateShortURL(ctx context.Context, target string, opts CreateOptions) (*models.ShortURL, error) {
	const op = "service.URLService.CreateShortURL"
	const maxRetries = 5

	if err := checkTargetURL(target); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if opts.LeftUses != nil && *opts.LeftUses <= 0 {
		return nil, fmt.Errorf("%s: %w", op, &InvalidLeftUsesError{
			Value: strconv.FormatInt(*opts.LeftUses, 10),
		})
	}

	var expiresAt *time.Time
	if opts.ExpiresAt != nil {
		utc := opts.ExpiresAt.UTC()
		expiresAt = &utc
	}

	for i := 0; i < maxRetries; i++ {
		key, err := s.keygen.GenerateKey(s.keyLength + i)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate key: %w", op, err)
		}

		url, err := s.shortURLs.Save(ctx, &models.ShortURL{
			Key:        key,
			TargetURL:  target,
			LeftUses:   opts.LeftUses,
			ExpiresAt:  expiresAt,
			Validation: models.ValidationPending,
			OwnerIP:    opts.OwnerIP,
			Sponsor:    opts.Sponsor,
		})
		if err != nil {
			if errors.Is(err, database.ErrShortURLExists) {
				continue
			}

			return nil, fmt.Errorf("%s: failed to create short url: %w", op, err)
		}

		go s.validator.Validate(context.WithoutCancel(ctx), url.Key, url.TargetURL)

		return url, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// RedirectTo resolves key to its target URL, spending one use of the record.
//
// If N redirects race on a record with N uses left, exactly N of them succeed;
// the rest observe the exhausted counter and fail with NotFoundError. Records
// found to be expired or exhausted are deleted in the background without
// delaying the error return; if that deletion fails, the sweeper removes them
// on its next pass.
func (s *URLService) RedirectTo(ctx context.Context, key string) (string, error) {
	const op = "service.URLService.RedirectTo"

	url, err := s.shortURLs.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, database.ErrShortURLNotFound) {
			return "", fmt.Errorf("%s: %w", op, &NotFoundError{Key: key})
		}

		return "", fmt.Errorf("%s: failed to resolve key: %w", op, err)
	}

	used, err := s.shortURLs.ConsumeUse(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: failed to consume use: %w", op, err)
	}

	switch Evaluate(url, time.Now().UTC(), used) {
	case OutcomeUsable:
		return url.TargetURL, nil
	case OutcomeExpiredByTime, OutcomeExhaustedUses:
		s.removeDetached(key)
		return "", fmt.Errorf("%s: %w", op, &NotFoundError{Key: key})
	case OutcomePendingValidation:
		return "", fmt.Errorf("%s: %w", op, &ValidationInProgressError{Key: key})
	case OutcomeRejectedUnsafe:
		return "", fmt.Errorf("%s: %w", op, &UnsafeError{Key: key})
	default:
		return "", fmt.Errorf("%s: %w", op, &UnreachableError{Key: key})
	}
}

// LogClick appends a click record for a redirect that was just served.
func (s *URLService) LogClick(ctx context.Context, key, ip string) error {
	const op = "service.URLService.LogClick"

	err := s.clicks.Save(ctx, &models.Click{
		Key:       key,
		CreatedAt: time.Now().UTC(),
		IP:        ip,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to log click: %w", op, err)
	}

	return nil
}

// removeDetached deletes the record in the background. The redirect response
// has already been decided; a failed delete is only logged and the record is
// left for the sweeper.
func (s *URLService) removeDetached(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if err := s.shortURLs.DeleteByKey(ctx, key); err != nil {
			s.logger.Error("failed to delete invalid short url",
				slog.String("key", key),
				slog.Any("err", err),
			)
		}
	}()
}

func checkTargetURL(target string) error {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &InvalidURLError{URL: target}
	}

	return nil
}
