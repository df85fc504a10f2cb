package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrNothingToWithdraw  = errors.New("nothing to withdraw")
	ErrUnknownPeriod      = errors.New("unknown period")

	// ErrIntegrity means an arithmetic overflow was detected while planning a
	// mutation. No state was changed, but the ledger cannot accept the
	// operation without breaking value conservation.
	ErrIntegrity = errors.New("ledger integrity violation")
)

// RateLimitError is returned by DepositReward when the minimum interval since
// the previous reward has not elapsed.
type RateLimitError struct {
	LastRewardAt time.Time
	NextEligible time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: last reward at %s, next eligible at %s",
		e.LastRewardAt.UTC().Format(time.RFC3339), e.NextEligible.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
