// Package audit implements an append-only, hash-chained JSON-lines audit
// trail. dplaned records daemon start/stop and back-end watchdog latches
// through it; external mutations and ordinary back-end update outcomes
// are not recorded.
//
// Adapted from the donor daemon's internal/audit package: the donor
// buffers AuditEvents in memory and flushes them to SQLite in a batched
// transaction, threading an HMAC chain (computeRowHash) through
// prev_hash/row_hash columns so a later reader can detect tampering.
// spec.md's non-goal on cross-restart resolver-state persistence rules
// out a database here (nothing is read back to reconstruct IP-config
// entries), so the sink is a plain append-only file instead of SQLite —
// everything else about the batching and chaining discipline is kept.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event is one audited occurrence: an external mutation accepted by the
// DNS manager, or the outcome of one back-end's Update call within an
// update cycle.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`

	PrevHash string `json:"prev_hash,omitempty"`
	RowHash  string `json:"row_hash,omitempty"`
}

// Logger is a file-backed, append-only sink for Events.
type Logger struct {
	file *os.File
	mu   sync.Mutex
}

// NewLogger opens (creating if necessary) the JSON-lines audit file at
// path for appending.
func NewLogger(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Logger{file: file}, nil
}

// writeLine marshals and appends one already-hashed event, syncing so the
// line is durable before the caller's flush returns.
func (l *Logger) writeLine(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	return l.file.Close()
}
