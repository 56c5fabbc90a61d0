package journal

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weallnet/weall/storage"
)

// Entry is one recorded engine event. Seq is monotonic within a session.
type Entry struct {
	ID   uuid.UUID      `json:"id"`
	Seq  int64          `json:"seq"`
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Journal is the append-only event log. Every entry is mirrored to the
// structured logger and written through to the storage driver when one is
// configured; write-through failures are logged, never fatal.
type Journal struct {
	logger *slog.Logger
	store  storage.Driver
	now    func() time.Time

	mu      sync.RWMutex
	entries []Entry
	nextSeq int64
}

func New(store storage.Driver, logger *slog.Logger, clock func() time.Time) *Journal {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		logger:  logger,
		store:   store,
		now:     clock,
		nextSeq: 1,
	}
}

// Record appends an event.
func (j *Journal) Record(eventType string, data map[string]any) Entry {
	j.mu.Lock()
	entry := Entry{
		ID:   uuid.New(),
		Seq:  j.nextSeq,
		Type: eventType,
		At:   j.now(),
		Data: data,
	}
	j.entries = append(j.entries, entry)
	j.nextSeq++
	j.mu.Unlock()

	j.logger.Info("event", "type", eventType, "seq", entry.Seq, "data", data)
	if j.store != nil {
		key := storage.Key("journal", map[string]string{
			"seq":  strconv.FormatInt(entry.Seq, 10),
			"type": eventType,
		})
		raw, err := json.Marshal(entry)
		if err == nil {
			err = j.store.WriteKey(key, raw)
		}
		if err != nil {
			j.logger.Warn("journal write-through failed", "seq", entry.Seq, "error", err)
		}
	}
	return entry
}

// List returns the most recent count entries, oldest first. A count of
// zero or less returns everything.
func (j *Journal) List(count int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	start := 0
	if count > 0 && count < len(j.entries) {
		start = len(j.entries) - count
	}
	return append([]Entry(nil), j.entries[start:]...)
}

// Len reports how many entries have been recorded.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
