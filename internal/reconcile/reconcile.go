// Package reconcile maintains a participant's local view of its message
// history: one canonical, append-only, id-keyed sequence that tolerates
// duplicate and out-of-order arrival of envelopes and acknowledgements.
package reconcile

import (
	"encoding/json"
	"sync"

	"github.com/pairwave/relay/internal/models"
)

// Record is one reconciled message as the local participant sees it.
// Exactly one of Text or the File* fields is populated.
type Record struct {
	ID        string
	From      string
	Name      string
	Text      string
	FileName  string
	FileMime  string
	FileData  string
	CreatedAt int64
	FromMe    bool
	Status    models.Status
}

// Merge folds an incoming record into an existing one with the same id.
// Incoming fields win except for status, which only ever moves up the
// sent < delivered < read ladder. Pure: neither argument is mutated.
func Merge(existing, incoming Record) Record {
	merged := incoming
	merged.Status = maxStatus(existing.Status, incoming.Status)
	if merged.CreatedAt == 0 {
		merged.CreatedAt = existing.CreatedAt
	}
	if merged.Name == "" {
		merged.Name = existing.Name
	}
	merged.FromMe = existing.FromMe || incoming.FromMe
	return merged
}

func maxStatus(a, b models.Status) models.Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Store holds the reconciled sequence for one participant. Records keep
// insertion order: createdAt is sender-clock time and unusable for a total
// order across participants.
type Store struct {
	mu      sync.Mutex
	order   []string
	records map[string]Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// RecordSent appends the optimistic local record for a message the
// participant just sent, before any network round trip. The relay's echo
// later merges into this same id instead of duplicating it.
func (s *Store) RecordSent(rec Record) {
	rec.FromMe = true
	rec.Status = models.StatusSent
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(rec)
}

// ApplyEnvelope folds a received message envelope into the store. selfID is
// the participant's own connection id: a self-authored envelope enters at
// read (the sender has already seen its own message), anything else at
// delivered.
func (s *Store) ApplyEnvelope(selfID string, ev models.Event) Record {
	rec := Record{
		ID:        ev.ID,
		From:      ev.From,
		Name:      ev.Name,
		CreatedAt: ev.CreatedAt,
		FromMe:    ev.From == selfID,
	}
	if rec.FromMe {
		rec.Status = models.StatusRead
	} else {
		rec.Status = models.StatusDelivered
	}

	var file models.FilePayload
	if err := json.Unmarshal(ev.Payload, &file); err == nil && file.Type == "file" {
		rec.FileName = file.Name
		rec.FileMime = file.Mime
		rec.FileData = file.Data
	} else {
		var text string
		if err := json.Unmarshal(ev.Payload, &text); err != nil {
			text = string(ev.Payload)
		}
		rec.Text = text
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(rec)
}

// Raise lifts the status of the record for id, never lowering it. Updates
// for unknown ids are dropped silently: an ack may race ahead of the local
// record of the originating send.
func (s *Store) Raise(id string, status models.Status) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	rec.Status = maxStatus(rec.Status, status)
	s.records[id] = rec
	return rec, true
}

// Get returns the record for id, if present.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Messages returns the reconciled sequence in insertion order.
func (s *Store) Messages() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// upsert appends a new record or merges into the existing one. Caller holds mu.
func (s *Store) upsert(rec Record) Record {
	if existing, ok := s.records[rec.ID]; ok {
		rec = Merge(existing, rec)
	} else {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	return rec
}
