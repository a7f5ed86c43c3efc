package routeros

import (
	"context"
	"sync"
	"time"

	routerosapi "github.com/go-routeros/routeros/v3"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	"go.uber.org/zap"
)

// pooledConn is one router API session. A session is handed to at most one
// caller at a time.
type pooledConn struct {
	client   *routerosapi.Client
	inUse    bool
	lastUsed time.Time
}

// Pool keeps a bounded number of API sessions per router and reaps sessions
// that sit idle past the configured timeout.
type Pool struct {
	mu    sync.Mutex
	conns map[string][]*pooledConn

	maxPerHost  int
	idleTimeout time.Duration
	dialTimeout time.Duration
	log         *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

type PoolConfig struct {
	MaxPerHost   int
	IdleTimeout  time.Duration
	DialTimeout  time.Duration
	ReapInterval time.Duration
}

func NewPool(cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 5
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	p := &Pool{
		conns:       make(map[string][]*pooledConn),
		maxPerHost:  cfg.MaxPerHost,
		idleTimeout: cfg.IdleTimeout,
		dialTimeout: cfg.DialTimeout,
		log:         log.Named("gateway.pool"),
	}
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.reapLoop(interval)
	return p
}

func (p *Pool) acquire(ctx context.Context, creds gatewaydomain.Credentials) (*pooledConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := creds.Address()

	p.mu.Lock()
	for _, pc := range p.conns[key] {
		if !pc.inUse {
			pc.inUse = true
			pc.lastUsed = time.Now()
			p.mu.Unlock()
			return pc, nil
		}
	}
	if len(p.conns[key]) >= p.maxPerHost {
		p.mu.Unlock()
		return nil, &gatewaydomain.GatewayError{Op: "acquire", Host: key, Err: errPoolExhausted}
	}
	// Reserve the slot before dialing so the cap holds under concurrency.
	pc := &pooledConn{inUse: true, lastUsed: time.Now()}
	p.conns[key] = append(p.conns[key], pc)
	p.mu.Unlock()

	client, err := routerosapi.DialTimeout(key, creds.Username, creds.Password, p.dialTimeout)
	if err != nil {
		p.discard(key, pc)
		return nil, &gatewaydomain.GatewayError{Op: "dial", Host: key, Err: err}
	}
	// Sessions run in async mode so RunContext can abandon a command when
	// the caller's context expires; a stalled router must not hang a tick.
	errC := client.Async()
	go func() {
		for loopErr := range errC {
			p.log.Warn("router session ended",
				zap.String("router", key),
				zap.Error(loopErr),
			)
		}
	}()
	pc.client = client
	return pc, nil
}

func (p *Pool) release(creds gatewaydomain.Credentials, pc *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc.inUse = false
	pc.lastUsed = time.Now()
}

// discard drops a connection that failed; the next acquire re-dials.
func (p *Pool) discard(key string, pc *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.conns[key]
	for i, c := range conns {
		if c == pc {
			p.conns[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if pc.client != nil {
		pc.client.Close()
	}
	if len(p.conns[key]) == 0 {
		delete(p.conns, key)
	}
}

func (p *Pool) reapLoop(interval time.Duration) {
	defer close(p.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.idleTimeout)
	for key, conns := range p.conns {
		kept := conns[:0]
		for _, pc := range conns {
			if !pc.inUse && pc.lastUsed.Before(cutoff) {
				if pc.client != nil {
					pc.client.Close()
				}
				p.log.Debug("idle router session closed", zap.String("router", key))
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(p.conns, key)
		} else {
			p.conns[key] = kept
		}
	}
}

// Close stops the reaper and closes every pooled session.
func (p *Pool) Close() {
	close(p.stopCh)
	<-p.doneCh

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conns := range p.conns {
		for _, pc := range conns {
			if pc.client != nil {
				pc.client.Close()
			}
		}
		delete(p.conns, key)
	}
}

// Stats reports per-router session counts for the ops endpoint.
func (p *Pool) Stats() map[string]PoolStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make(map[string]PoolStat, len(p.conns))
	for key, conns := range p.conns {
		stat := PoolStat{Total: len(conns)}
		for _, pc := range conns {
			if pc.inUse {
				stat.InUse++
			}
		}
		stats[key] = stat
	}
	return stats
}

type PoolStat struct {
	Total int `json:"total"`
	InUse int `json:"in_use"`
}
