package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Evaluate computes today's status for the user and persists the
	// authoritative daily totals to the credit ledger on the way.
	Evaluate(ctx context.Context, username string, tenantID snowflake.ID) (*EvaluationResult, error)

	// Peek is Evaluate without the credit-ledger write, for request
	// handlers that must not advance the ledger.
	Peek(ctx context.Context, username string, tenantID snowflake.ID) (*EvaluationResult, error)

	// Enforce evaluates and, when the user is EXCEEDED and not already
	// blocked, disables them on the router exactly once. It never
	// re-enables a blocked user on its own; that takes Unblock.
	Enforce(ctx context.Context, username string, tenantID snowflake.ID) (*EvaluationResult, error)

	// Unblock re-enables the user on the router and clears the blocked
	// flag. Explicit admin action.
	Unblock(ctx context.Context, username string, tenantID snowflake.ID) error

	// Block disables the user on the router with an operator-supplied
	// reason, independent of quota state.
	Block(ctx context.Context, username string, tenantID snowflake.ID, reason string) error

	// SyncProfiles imports the router's hotspot users into profile state,
	// creating rows for unseen users and refreshing profile names.
	// Returns the number of users seen.
	SyncProfiles(ctx context.Context, tenantID snowflake.ID) (int, error)

	// ProfileState returns the stored state, or nil when the user has
	// never been synced or enforced.
	ProfileState(ctx context.Context, username string, tenantID snowflake.ID) (*UserProfileState, error)
}

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrAlreadyBlocked  = errors.New("user already blocked")
	ErrNotBlocked      = errors.New("user is not blocked")
)
