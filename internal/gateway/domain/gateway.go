// Package domain defines the router gateway contract. Results are decoded
// into typed structs once at the boundary; the rest of the system never sees
// the router API's stringly-typed replies.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Credentials identify one tenant's router API endpoint.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (c Credentials) Address() string {
	port := c.Port
	if port == 0 {
		port = 8728
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// HotspotUser is a provisioned captive-portal account on the router.
type HotspotUser struct {
	Username string
	Profile  string
	Disabled bool
	BytesIn  int64
	BytesOut int64
	Uptime   time.Duration
}

// ActiveSession is a currently connected hotspot session. Its byte counters
// are cumulative for the session (snapshot semantics).
type ActiveSession struct {
	Username    string
	SessionID   string
	BytesIn     int64
	BytesOut    int64
	SessionTime time.Duration
}

// RouterGateway is the narrow capability the ledgers and the evaluator use.
// Every operation may fail with a *GatewayError; callers treat that as
// "skip this tenant this tick", never as fatal.
type RouterGateway interface {
	ListHotspotUsers(ctx context.Context, creds Credentials) ([]HotspotUser, error)
	ListActiveSessions(ctx context.Context, creds Credentials) ([]ActiveSession, error)
	SetUserEnabled(ctx context.Context, creds Credentials, username string, enabled bool) error
	SetUserProfile(ctx context.Context, creds Credentials, username, profile string) error
	TestConnection(ctx context.Context, creds Credentials) (bool, string)
}

// GatewayError wraps router transport/auth failures with tenant context.
type GatewayError struct {
	Op   string
	Host string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err originated at the router boundary.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

var ErrUserNotFound = errors.New("hotspot user not found on router")
