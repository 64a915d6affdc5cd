package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// backoff bounds how often a journal write is retried after a transient
// SQLite error. Several runs may share one database file, so WAL
// contention surfaces as BUSY, LOCKED or a short read.
type backoff struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

var writeBackoff = backoff{
	attempts: 4,
	base:     25 * time.Millisecond,
	ceiling:  400 * time.Millisecond,
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return code == sqlite3.SQLITE_IOERR_SHORT_READ
	}
	// database/sql sometimes flattens the driver error into text.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// do runs fn until it succeeds, fails permanently, or the attempts run out.
func (b backoff) do(fn func() error) error {
	var err error
	for i := 0; ; i++ {
		if err = fn(); err == nil || !transient(err) {
			return err
		}
		if i+1 >= b.attempts {
			return err
		}
		time.Sleep(b.delay(i))
	}
}

// delay is base*2^i capped at ceiling, plus up to base of jitter.
func (b backoff) delay(i int) time.Duration {
	d := b.base << uint(i)
	if d <= 0 || d > b.ceiling {
		d = b.ceiling
	}
	if b.base > 0 {
		d += time.Duration(rand.Int63n(int64(b.base)))
	}
	return d
}
