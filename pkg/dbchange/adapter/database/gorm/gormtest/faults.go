package gormtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
)

// Fault makes statements containing Match fail with Err. The first Skip matches pass,
// the next Times matches fail, later ones pass again. DB, when set, limits the fault to one database.
type Fault struct {
	DB    string
	Match string
	Skip  int
	Times int
	Err   error

	mu   sync.Mutex
	hits int
}

// Remaining returns how many failures are still pending.
func (f *Fault) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	failed := f.hits - f.Skip
	switch {
	case failed < 0:
		failed = 0
	case failed > f.Times:
		failed = f.Times
	}
	return f.Times - failed
}

func (f *Fault) check(db, query string) error {
	if f.DB != "" && f.DB != db {
		return nil
	}
	if !strings.Contains(query, f.Match) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.hits > f.Skip && f.hits <= f.Skip+f.Times {
		return f.Err
	}
	return nil
}

// WithFaults wraps p so that sessions, including transactions, inject faults into Exec.
func WithFaults(p database.Provider, faults ...*Fault) database.Provider {
	return &faultyProvider{Provider: p, faults: faults}
}

type faultyProvider struct {
	database.Provider
	faults []*Fault
}

func (p *faultyProvider) WithSession(ctx context.Context, name string, fn func(database.Session) error) error {
	return p.Provider.WithSession(ctx, name, func(s database.Session) error {
		return fn(&faultySession{Session: s, faults: p.faults})
	})
}

type faultySession struct {
	database.Session
	faults []*Fault
}

func (s *faultySession) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	for _, f := range s.faults {
		if err := f.check(s.Name(), query); err != nil {
			return 0, err
		}
	}
	return s.Session.Exec(ctx, query, args...)
}

func (s *faultySession) Transaction(ctx context.Context, fn func(tx database.Session) error) error {
	return s.Session.Transaction(ctx, func(tx database.Session) error {
		return fn(&faultySession{Session: tx, faults: s.faults})
	})
}
