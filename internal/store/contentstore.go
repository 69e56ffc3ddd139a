// Package store implements the ContentStore: a validated, TTL-governed
// record set with replication/republication/expiry hooks (spec 3 "Record",
// 4.3 "ContentStore"). Grounded on the teacher's core/ledger.go
// sync.RWMutex-guarded-map idiom and %w error wrapping, generalized from a
// blockchain ledger to a content-addressed record cache with an on-disk
// blob directory (spec 6 "store/").
package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"neromon/internal/codec"
	"neromon/internal/errs"
	"neromon/internal/nodeid"
)

// MaxValueSize is the maximum accepted record value size (spec 4.3).
const MaxValueSize = 4 << 20 // 4 MiB

// MaxTTL is the maximum accepted record TTL (spec 4.3).
const MaxTTL = 30 * 24 * time.Hour

// DefaultTTL is applied to ephemeral records with no explicit TTL (spec 3).
const DefaultTTL = time.Hour

// RepublishInterval is how often a holder re-STOREs every record it holds
// (spec 4.3).
const RepublishInterval = time.Hour

// Validator is the pluggable structural/signature validation hook of spec
// 4.3. It is consulted before insertion; ok=false with a reason rejects the
// STORE/put.
type Validator func(tag codec.Tag, value []byte) (ok bool, reason string)

// Store is the daemon's content-addressed record set.
type Store struct {
	mu      sync.RWMutex
	records map[nodeid.Key]*codec.Record

	blobDir  string
	validate Validator
	nowFn    func() time.Time
}

// New builds a Store rooted at blobDir (spec 6 "store/"; empty disables the
// on-disk blob mirror, used by tests). validate may be nil, in which case
// only structural checks (hash match, size, TTL) apply.
func New(blobDir string, validate Validator) (*Store, error) {
	if blobDir != "" {
		if err := os.MkdirAll(blobDir, 0o700); err != nil {
			return nil, errs.Wrap(errs.Storage, err, "create store directory")
		}
	}
	return &Store{
		records:  make(map[nodeid.Key]*codec.Record),
		blobDir:  blobDir,
		validate: validate,
		nowFn:    time.Now,
	}, nil
}

// Put validates and inserts a record, replicating the spec 4.3 put()
// contract. The returned error has errs.Kind Invalid or Storage on
// rejection; nil on acceptance (including an idempotent re-PUT of an
// identical value).
func (s *Store) Put(key nodeid.Key, value []byte, ttl time.Duration, origin nodeid.NodeID) error {
	if len(value) > MaxValueSize {
		return errs.New(errs.Invalid, fmt.Sprintf("value size %d exceeds max %d", len(value), MaxValueSize))
	}
	if ttl > MaxTTL {
		return errs.New(errs.Invalid, fmt.Sprintf("ttl %s exceeds max %s", ttl, MaxTTL))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	rv, err := codec.ParseRecordValue(value)
	if err != nil {
		return errs.Wrap(errs.Invalid, err, "parse record value")
	}
	canon, err := rv.Canonical()
	if err != nil {
		return errs.Wrap(errs.Invalid, err, "canonicalize record value")
	}
	if got := nodeid.KeyFromContent(canon); got != key {
		return errs.New(errs.Invalid, "key/value hash mismatch")
	}
	if s.validate != nil {
		if ok, reason := s.validate(rv.Tag, value); !ok {
			return errs.New(errs.Invalid, reason)
		}
	}

	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		// Content-addressed integrity: an existing key's value is immutable
		// (spec 3). A re-STORE with a differing TTL is accepted and the
		// remaining TTL becomes the minimum of the two (SPEC_FULL open
		// question 2), but the value itself must already match since the
		// hash check above guarantees it.
		remaining := existing.TTL - now.Sub(existing.Timestamp)
		if ttl < remaining || remaining <= 0 {
			existing.Timestamp = now
			existing.TTL = ttl
			existing.RepublishAt = now.Add(min(ttl, RepublishInterval))
		}
		return nil
	}

	rec := &codec.Record{
		Key:         key,
		Value:       value,
		Timestamp:   now,
		TTL:         ttl,
		RepublishAt: now.Add(min(ttl, RepublishInterval)),
		Origin:      origin,
	}
	s.records[key] = rec
	if s.blobDir != "" {
		if err := os.WriteFile(s.blobPath(key), value, 0o600); err != nil {
			delete(s.records, key)
			return errs.Wrap(errs.Storage, err, "write record blob")
		}
	}
	return nil
}

// Get returns the current value for key, errs.NotFound if absent, or
// errs.Expired if its TTL has elapsed but it has not yet been swept (spec
// 4.3 get()).
func (s *Store) Get(key nodeid.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "key not present")
	}
	if s.expired(rec) {
		return nil, errs.New(errs.Expired, "record ttl elapsed")
	}
	return rec.Value, nil
}

// RemainingTTL returns how much of key's TTL is left, or false if the key is
// absent or already expired. Used by FIND_VALUE to tell a caching requester
// how long the cached copy may live.
func (s *Store) RemainingTTL(key nodeid.Key) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok || s.expired(rec) {
		return 0, false
	}
	return rec.TTL - s.nowFn().Sub(rec.Timestamp), true
}

// Remove performs a local-only eviction (spec 4.3 remove(); spec 9 open
// question 1: never propagated to peers).
func (s *Store) Remove(key nodeid.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	if s.blobDir != "" {
		_ = os.Remove(s.blobPath(key))
	}
}

// IterDueForRepublish returns records whose RepublishAt has passed (spec
// 4.3 iter_due_for_republish()).
func (s *Store) IterDueForRepublish(now time.Time) []codec.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []codec.Record
	for _, rec := range s.records {
		if !rec.RepublishAt.After(now) {
			due = append(due, *rec)
		}
	}
	return due
}

// BumpRepublish pushes a record's next republish deadline forward after a
// successful republication sweep.
func (s *Store) BumpRepublish(key nodeid.Key, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.RepublishAt = now.Add(min(rec.TTL, RepublishInterval))
	}
}

// SweepExpired removes every record past its TTL, called every 60s by the
// maintenance scheduler (spec 4.3 "Expiry").
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for key, rec := range s.records {
		if now.Sub(rec.Timestamp) > rec.TTL {
			delete(s.records, key)
			if s.blobDir != "" {
				_ = os.Remove(s.blobPath(key))
			}
			removed++
		}
	}
	return removed
}

// Clear truncates the local store (spec 4.7 "clear", debug only).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[nodeid.Key]*codec.Record)
	if s.blobDir != "" {
		_ = os.RemoveAll(s.blobDir)
		_ = os.MkdirAll(s.blobDir, 0o700)
	}
}

// Count returns the number of live (non-expired) records, used by the
// bridge's status method (spec 4.7 data_count).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if !s.expired(rec) {
			n++
		}
	}
	return n
}

// RAMUsage approximates bytes held in memory across all live records (spec
// 4.7 data_ram_usage).
func (s *Store) RAMUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, rec := range s.records {
		if s.expired(rec) {
			continue
		}
		total += int64(len(rec.Value))
	}
	return total
}

func (s *Store) expired(rec *codec.Record) bool {
	return s.nowFn().Sub(rec.Timestamp) > rec.TTL
}

func (s *Store) blobPath(key nodeid.Key) string {
	return filepath.Join(s.blobDir, hex.EncodeToString(key[:]))
}
