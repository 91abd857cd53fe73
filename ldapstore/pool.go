package ldapstore

import (
	"context"
	"sync"

	"github.com/go-ldap/ldap/v3"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// ReadPool round-robins search traffic over Config.ReadHosts and bounds
// concurrent connections to PoolMax. Reads are safe to parallelize
// against replicas; writes serialize against the single master through
// WriteConn.
type ReadPool struct {
	cfg  Config
	sem  chan struct{}
	mu   sync.Mutex
	next int
}

func NewReadPool(cfg Config) *ReadPool {
	cfg = cfg.WithDefaults()
	return &ReadPool{
		cfg: cfg,
		sem: make(chan struct{}, cfg.PoolMax),
	}
}

// Acquire blocks until a slot is free or ctx/PoolTimeout expires, dials
// the next host round-robin, and returns a conn plus a release func the
// caller must call exactly once.
func (p *ReadPool) Acquire(ctx context.Context) (conn, func(), error) {
	timeout := p.cfg.PoolTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, pkderrors.NewLdapTransientError("ldapstore: read pool exhausted after %s", timeout)
	}

	host := p.nextHost()
	c, err := dial(host, defaultReadPort(p.cfg), p.cfg.BindDN, p.cfg.BindPassword, p.cfg.NetworkTimeout)
	if err != nil {
		<-p.sem
		return nil, nil, err
	}
	release := func() {
		c.Close()
		<-p.sem
	}
	return c, release, nil
}

func (p *ReadPool) nextHost() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cfg.ReadHosts) == 0 {
		return p.cfg.WriteHost
	}
	h := p.cfg.ReadHosts[p.next%len(p.cfg.ReadHosts)]
	p.next++
	return h
}

func defaultReadPort(cfg Config) int {
	if cfg.WritePort != 0 {
		return cfg.WritePort
	}
	return 389
}

// WriteConn is the single exclusive connection to the write master. All
// mutating operations serialize through mu: the directory is assumed not
// to tolerate concurrent writers, so rather than pool writes this holds
// one connection and reconnects lazily if it has gone stale.
type WriteConn struct {
	cfg Config
	mu  sync.Mutex
	c   *ldap.Conn
}

func NewWriteConn(cfg Config) *WriteConn {
	return &WriteConn{cfg: cfg.WithDefaults()}
}

// Do runs fn with the exclusive write connection held, dialing lazily on
// first use or after a prior connection died.
func (w *WriteConn) Do(ctx context.Context, fn func(conn) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.c == nil {
		c, err := dial(w.cfg.WriteHost, w.cfg.WritePort, w.cfg.BindDN, w.cfg.BindPassword, w.cfg.NetworkTimeout)
		if err != nil {
			return err
		}
		w.c = c
	}

	done := make(chan error, 1)
	go func() { done <- fn(w.c) }()

	select {
	case err := <-done:
		if err != nil && (isConnDead(err) || w.c.IsClosing()) {
			w.c.Close()
			w.c = nil
		}
		return err
	case <-ctx.Done():
		return pkderrors.NewLdapTransientError("ldapstore: write op canceled: %v", ctx.Err())
	}
}

func isConnDead(err error) bool {
	le, ok := err.(*ldap.Error)
	if !ok {
		return false
	}
	return le.ResultCode == ldap.ErrorNetwork
}
