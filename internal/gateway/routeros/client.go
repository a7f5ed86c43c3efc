// Package routeros implements the router gateway against the MikroTik
// RouterOS API (/ip/hotspot subsystem).
package routeros

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	routerosapi "github.com/go-routeros/routeros/v3"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	"go.uber.org/zap"
)

var errPoolExhausted = errors.New("connection pool exhausted")

// Gateway talks to one router per call through the shared session pool.
type Gateway struct {
	pool *Pool
	log  *zap.Logger
}

func NewGateway(pool *Pool, log *zap.Logger) gatewaydomain.RouterGateway {
	return &Gateway{
		pool: pool,
		log:  log.Named("gateway.routeros"),
	}
}

func (g *Gateway) run(ctx context.Context, creds gatewaydomain.Credentials, op string, sentence ...string) (*routerosapi.Reply, error) {
	pc, err := g.pool.acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	reply, err := pc.client.RunContext(ctx, sentence...)
	if err != nil {
		// The session may be broken; drop it rather than returning it.
		g.pool.discard(creds.Address(), pc)
		return nil, &gatewaydomain.GatewayError{Op: op, Host: creds.Address(), Err: err}
	}
	g.pool.release(creds, pc)
	return reply, nil
}

func (g *Gateway) ListHotspotUsers(ctx context.Context, creds gatewaydomain.Credentials) ([]gatewaydomain.HotspotUser, error) {
	reply, err := g.run(ctx, creds, "list_users", "/ip/hotspot/user/print")
	if err != nil {
		return nil, err
	}

	users := make([]gatewaydomain.HotspotUser, 0, len(reply.Re))
	for _, re := range reply.Re {
		users = append(users, gatewaydomain.HotspotUser{
			Username: re.Map["name"],
			Profile:  re.Map["profile"],
			Disabled: parseBool(re.Map["disabled"]),
			BytesIn:  parseInt64(re.Map["bytes-in"]),
			BytesOut: parseInt64(re.Map["bytes-out"]),
			Uptime:   parseRouterDuration(re.Map["uptime"]),
		})
	}
	return users, nil
}

func (g *Gateway) ListActiveSessions(ctx context.Context, creds gatewaydomain.Credentials) ([]gatewaydomain.ActiveSession, error) {
	reply, err := g.run(ctx, creds, "list_active", "/ip/hotspot/active/print")
	if err != nil {
		return nil, err
	}

	sessions := make([]gatewaydomain.ActiveSession, 0, len(reply.Re))
	for _, re := range reply.Re {
		sessions = append(sessions, gatewaydomain.ActiveSession{
			Username:    re.Map["user"],
			SessionID:   re.Map[".id"],
			BytesIn:     parseInt64(re.Map["bytes-in"]),
			BytesOut:    parseInt64(re.Map["bytes-out"]),
			SessionTime: parseRouterDuration(re.Map["uptime"]),
		})
	}
	return sessions, nil
}

func (g *Gateway) SetUserEnabled(ctx context.Context, creds gatewaydomain.Credentials, username string, enabled bool) error {
	id, err := g.findUserID(ctx, creds, username)
	if err != nil {
		return err
	}

	disabled := "yes"
	if enabled {
		disabled = "no"
	}
	_, err = g.run(ctx, creds, "set_enabled",
		"/ip/hotspot/user/set",
		"=.id="+id,
		"=disabled="+disabled,
	)
	if err == nil {
		g.log.Info("hotspot user toggled",
			zap.String("router", creds.Address()),
			zap.String("username", username),
			zap.Bool("enabled", enabled),
		)
	}
	return err
}

func (g *Gateway) SetUserProfile(ctx context.Context, creds gatewaydomain.Credentials, username, profile string) error {
	id, err := g.findUserID(ctx, creds, username)
	if err != nil {
		return err
	}

	_, err = g.run(ctx, creds, "set_profile",
		"/ip/hotspot/user/set",
		"=.id="+id,
		"=profile="+profile,
	)
	return err
}

func (g *Gateway) TestConnection(ctx context.Context, creds gatewaydomain.Credentials) (bool, string) {
	_, err := g.run(ctx, creds, "test", "/system/resource/print")
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	return true, "connection established"
}

func (g *Gateway) findUserID(ctx context.Context, creds gatewaydomain.Credentials, username string) (string, error) {
	reply, err := g.run(ctx, creds, "find_user",
		"/ip/hotspot/user/print",
		"?name="+username,
	)
	if err != nil {
		return "", err
	}
	if len(reply.Re) == 0 {
		return "", gatewaydomain.ErrUserNotFound
	}
	return reply.Re[0].Map[".id"], nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes":
		return true
	default:
		return false
	}
}

func parseInt64(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseRouterDuration handles RouterOS uptime strings like "1w2d3h4m5s".
func parseRouterDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	var total time.Duration
	var num strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			num.WriteRune(r)
			continue
		}
		n, err := strconv.Atoi(num.String())
		num.Reset()
		if err != nil {
			continue
		}
		switch r {
		case 'w':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		}
	}
	return total
}
