package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetOrCreate returns the ledger row for (username, tenant, day),
	// creating it lazily from the tenant's active service class when absent.
	// classID 0 means "resolve the active class". Creation races resolve by
	// re-fetching the winner's row, so concurrent callers all succeed.
	GetOrCreate(ctx context.Context, username string, tenantID snowflake.ID, day string, classID snowflake.ID) (*DailyCredit, error)

	// ApplyUsage records the authoritative daily totals from the usage
	// ledger. Totals replace, never add, which makes repeated evaluation
	// ticks idempotent.
	ApplyUsage(ctx context.Context, username string, tenantID snowflake.ID, day string, bytesUsed, secondsUsed int64) (*DailyCredit, error)

	// RolloverDay creates toDay rows for every fromDay row of the tenant,
	// carrying max(0, available-used) forward as accumulated credit.
	// Existing toDay rows are left untouched; re-runs are no-ops.
	RolloverDay(ctx context.Context, tenantID snowflake.ID, fromDay, toDay string) (int, error)

	// History returns up to days ledger rows for the user, newest first.
	History(ctx context.Context, username string, tenantID snowflake.ID, days int) ([]*DailyCredit, error)

	// Remaining is a convenience read of today's unused allowance.
	Remaining(ctx context.Context, username string, tenantID snowflake.ID, day string) (float64, error)
}

var (
	ErrInvalidDay      = errors.New("invalid ledger day")
	ErrInvalidUsername = errors.New("invalid username")
)
