package audit

import (
	"log"
	"sync"
	"time"
)

// BufferedLogger batches Events and flushes them to the underlying Logger
// periodically or once a size threshold is hit, exactly as the donor's
// SQLite-backed BufferedLogger did — only the flush target changed, from
// a batched SQL transaction to batched JSON-lines appends, each one still
// carrying the HMAC chain forward.
type BufferedLogger struct {
	sink *Logger

	bufferMutex   sync.Mutex
	buffer        []Event
	maxBuffer     int
	flushInterval time.Duration

	flushTicker *time.Ticker
	stopChan    chan struct{}

	chainMu  sync.Mutex
	hmacKey  []byte
	prevHash string
}

// NewBufferedLogger creates a buffered logger writing through sink.
// hmacKey may be nil, in which case every event's RowHash is left empty
// (chain disabled).
func NewBufferedLogger(sink *Logger, maxBuffer int, flushInterval time.Duration, hmacKey []byte) *BufferedLogger {
	if maxBuffer <= 0 {
		maxBuffer = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BufferedLogger{
		sink:          sink,
		buffer:        make([]Event, 0, maxBuffer),
		maxBuffer:     maxBuffer,
		flushInterval: flushInterval,
		stopChan:      make(chan struct{}),
		hmacKey:       hmacKey,
	}
}

// Start begins the background flush goroutine.
func (bl *BufferedLogger) Start() {
	bl.flushTicker = time.NewTicker(bl.flushInterval)
	go func() {
		for {
			select {
			case <-bl.flushTicker.C:
				if err := bl.Flush(); err != nil {
					log.Printf("audit: periodic flush: %v", err)
				}
			case <-bl.stopChan:
				bl.flushTicker.Stop()
				if err := bl.Flush(); err != nil {
					log.Printf("audit: final flush: %v", err)
				}
				return
			}
		}
	}()
}

// Stop flushes any remaining events and stops the background goroutine.
func (bl *BufferedLogger) Stop() {
	close(bl.stopChan)
}

// criticalActions are never buffered — they are chained and written
// synchronously so a crash immediately after the call cannot lose them.
// back-end watchdog latches (backend_failed) and daemon start/stop are the DNS
// manager's analogue of the donor's login/permission-denied events.
var criticalActions = map[string]bool{
	"daemon_start":   true,
	"daemon_stop":    true,
	"backend_failed": true,
}

// Log enqueues an event. Critical actions bypass the buffer entirely.
func (bl *BufferedLogger) Log(e Event) error {
	e.Timestamp = time.Now()
	if criticalActions[e.Action] {
		return bl.writeChained([]Event{e})
	}

	bl.bufferMutex.Lock()
	bl.buffer = append(bl.buffer, e)
	needFlush := len(bl.buffer) >= bl.maxBuffer
	bl.bufferMutex.Unlock()

	if needFlush {
		return bl.Flush()
	}
	return nil
}

// Flush writes every buffered event to the sink, threading the HMAC
// chain across them.
func (bl *BufferedLogger) Flush() error {
	bl.bufferMutex.Lock()
	if len(bl.buffer) == 0 {
		bl.bufferMutex.Unlock()
		return nil
	}
	events := make([]Event, len(bl.buffer))
	copy(events, bl.buffer)
	bl.buffer = bl.buffer[:0]
	bl.bufferMutex.Unlock()

	return bl.writeChained(events)
}

// writeChained appends events to the sink in order, advancing the shared
// prev_hash/row_hash chain under chainMu so concurrent Flush/Log(critical)
// calls never interleave their hashes.
func (bl *BufferedLogger) writeChained(events []Event) error {
	bl.chainMu.Lock()
	defer bl.chainMu.Unlock()

	var firstErr error
	for _, e := range events {
		e.PrevHash = bl.prevHash
		e.RowHash = computeRowHash(bl.hmacKey, e)
		if err := bl.sink.writeLine(e); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("audit: write event %q: %v", e.Action, err)
			continue
		}
		bl.prevHash = e.RowHash
	}
	return firstErr
}
