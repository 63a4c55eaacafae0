package service

import (
	"time"

	"github.com/tinyscale/tinylink/internal/models"
)

// Outcome classifies whether a short URL snapshot may be served right now,
// and if not, why.
type Outcome int

const (
	OutcomeUsable Outcome = iota
	OutcomeExpiredByTime
	OutcomeExhaustedUses
	OutcomePendingValidation
	OutcomeRejectedUnsafe
	OutcomeRejectedUnreachable
)

var outcomeNames = map[Outcome]string{
	OutcomeUsable:              "usable",
	OutcomeExpiredByTime:       "expired_by_time",
	OutcomeExhaustedUses:       "exhausted_uses",
	OutcomePendingValidation:   "pending_validation",
	OutcomeRejectedUnsafe:      "rejected_unsafe",
	OutcomeRejectedUnreachable: "rejected_unreachable",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Evaluate decides whether the record snapshot is usable at now, given the
// result of the use-consumption attempt that preceded it (used is true when
// the store spent a use, or when the record has unlimited uses).
//
// First match wins. Validation rejections come before time and use-count
// exhaustion, so a URL that is both unsafe and expired reports unsafe.
func Evaluate(url *models.ShortURL, now time.Time, used bool) Outcome {
	switch url.Validation {
	case models.ValidationFailUnsafe:
		return OutcomeRejectedUnsafe
	case models.ValidationFailUnreachable:
		return OutcomeRejectedUnreachable
	case models.ValidationPending:
		return OutcomePendingValidation
	}

	if url.ExpiresAt != nil && !now.Before(*url.ExpiresAt) {
		return OutcomeExpiredByTime
	}

	if url.LeftUses != nil && !used {
		return OutcomeExhaustedUses
	}

	return OutcomeUsable
}
