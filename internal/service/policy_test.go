package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tinyscale/tinylink/internal/models"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2030, time.January, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	one := int64(1)

	tests := []struct {
		name string
		url  models.ShortURL
		used bool
		want Outcome
	}{
		{
			name: "usable without limits",
			url:  models.ShortURL{Validation: models.ValidationPass},
			used: true,
			want: OutcomeUsable,
		},
		{
			name: "usable with remaining uses",
			url:  models.ShortURL{Validation: models.ValidationPass, LeftUses: &one},
			used: true,
			want: OutcomeUsable,
		},
		{
			name: "usable before expiration",
			url:  models.ShortURL{Validation: models.ValidationPass, ExpiresAt: &future},
			used: true,
			want: OutcomeUsable,
		},
		{
			name: "expired by time",
			url:  models.ShortURL{Validation: models.ValidationPass, ExpiresAt: &past},
			used: true,
			want: OutcomeExpiredByTime,
		},
		{
			name: "expired exactly at the deadline",
			url:  models.ShortURL{Validation: models.ValidationPass, ExpiresAt: &now},
			used: true,
			want: OutcomeExpiredByTime,
		},
		{
			name: "exhausted uses",
			url:  models.ShortURL{Validation: models.ValidationPass, LeftUses: &one},
			used: false,
			want: OutcomeExhaustedUses,
		},
		{
			name: "unlimited uses ignore the consumption result",
			url:  models.ShortURL{Validation: models.ValidationPass},
			used: false,
			want: OutcomeUsable,
		},
		{
			name: "pending validation",
			url:  models.ShortURL{Validation: models.ValidationPending},
			used: true,
			want: OutcomePendingValidation,
		},
		{
			name: "pending validation wins over expiry",
			url:  models.ShortURL{Validation: models.ValidationPending, ExpiresAt: &past},
			used: true,
			want: OutcomePendingValidation,
		},
		{
			name: "unsafe",
			url:  models.ShortURL{Validation: models.ValidationFailUnsafe},
			used: true,
			want: OutcomeRejectedUnsafe,
		},
		{
			name: "unsafe wins over expiry and exhaustion",
			url:  models.ShortURL{Validation: models.ValidationFailUnsafe, ExpiresAt: &past, LeftUses: &one},
			used: false,
			want: OutcomeRejectedUnsafe,
		},
		{
			name: "unreachable",
			url:  models.ShortURL{Validation: models.ValidationFailUnreachable},
			used: true,
			want: OutcomeRejectedUnreachable,
		},
		{
			name: "unreachable wins over expiry",
			url:  models.ShortURL{Validation: models.ValidationFailUnreachable, ExpiresAt: &past},
			used: true,
			want: OutcomeRejectedUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(&tt.url, now, tt.used)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "usable", OutcomeUsable.String())
	assert.Equal(t, "rejected_unsafe", OutcomeRejectedUnsafe.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
