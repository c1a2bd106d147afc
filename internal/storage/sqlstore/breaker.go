package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	gobreaker "github.com/sony/gobreaker/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rzbill/evstore/internal/eventstore"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

func newBreaker(name string, o BreakerOptions, logger logpkg.Logger, hook func(string, gobreaker.State, gobreaker.State)) *gobreaker.CircuitBreaker[any] {
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRequests == 0 {
		o.MaxRequests = 1
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: o.MaxRequests,
		Interval:    o.Interval,
		Timeout:     o.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.FailureThreshold
		},
		// Only infrastructure failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, eventstore.ErrStorageUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lvl := logger.Warn
			if to == gobreaker.StateClosed {
				lvl = logger.Info
			}
			lvl("circuit breaker state change", logpkg.Str("from", from.String()), logpkg.Str("to", to.String()))
			if hook != nil {
				hook(name, from, to)
			}
		},
	})
}

// guard runs fn through the breaker. fn's errors must already be classified.
func (s *Store) guard(op string, fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, classify(fn())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return eventstore.Unavailable(op, err)
	}
	return err
}

// classify wraps infrastructure failures as ErrStorageUnavailable and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, eventstore.ErrStorageUnavailable) {
		return err
	}
	if unavailable(err) {
		return eventstore.Unavailable("sql", err)
	}
	return err
}

func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57", "58", "40":
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
			sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}
