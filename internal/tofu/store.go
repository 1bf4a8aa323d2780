// Package tofu implements the Trust-On-First-Use certificate store
// used by the client session. Entries are keyed by "host:port" and
// hold the fingerprint last seen for that endpoint plus first/last
// seen timestamps. The store is backed by an embedded badger database
// (the same embedded-KV contract spec.md §9 says any SQLite-alike
// store satisfies), guarded by a mutex for the read-modify-write
// sequences Verify/Trust need to preserve first_seen across replaces.
package tofu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/alanbato/nauyaca/internal/certutil"
)

// VerifyResult classifies the outcome of Verify.
type VerifyResult int

const (
	// ResultFirstUse means no entry existed for the host:port pair.
	ResultFirstUse VerifyResult = iota
	// ResultMatch means the presented fingerprint matched the stored one.
	ResultMatch
	// ResultChanged means the presented fingerprint differs from the
	// stored one; Verify also returns a *CertificateChangedError in
	// this case.
	ResultChanged
)

func (r VerifyResult) String() string {
	switch r {
	case ResultFirstUse:
		return "first_use"
	case ResultMatch:
		return "match"
	case ResultChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// CertificateChangedError is returned by Verify (never panicked or
// thrown) when a host's certificate fingerprint no longer matches what
// was previously trusted. The client session must surface this to the
// caller rather than silently trusting the new fingerprint.
type CertificateChangedError struct {
	Host           string
	Port           int
	OldFingerprint string
	NewFingerprint string
}

func (e *CertificateChangedError) Error() string {
	return fmt.Sprintf("tofu: certificate for %s:%d changed from %s to %s",
		e.Host, e.Port, e.OldFingerprint, e.NewFingerprint)
}

// Entry is a single trusted host record.
type Entry struct {
	Hostname    string
	Port        int
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Store is a mutex-serialized, badger-backed TOFU database.
type Store struct {
	mu sync.Mutex
	db *badger.DB
}

// Open opens (creating if necessary) a TOFU store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tofu: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(host string, port int) []byte {
	return []byte(host + ":" + strconv.Itoa(port))
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Verify checks der's fingerprint against the stored entry for
// host:port. It never trusts a changed certificate automatically: on
// ResultChanged the caller (client session) decides whether to abort
// or explicitly call Trust.
func (s *Store) Verify(host string, port int, der []byte) (VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := certutil.Fingerprint(der)
	now := time.Now().UTC()

	existing, err := s.getLocked(host, port)
	if err != nil {
		return 0, fmt.Errorf("tofu: verify lookup: %w", err)
	}

	if existing == nil {
		return ResultFirstUse, nil
	}

	if existing.Fingerprint == fp {
		existing.LastSeen = now
		if err := s.putLocked(key(host, port), *existing); err != nil {
			return 0, err
		}
		return ResultMatch, nil
	}

	return ResultChanged, &CertificateChangedError{
		Host:           host,
		Port:           port,
		OldFingerprint: existing.Fingerprint,
		NewFingerprint: fp,
	}
}

// Trust inserts or replaces the trusted fingerprint for host:port,
// preserving first_seen when replacing an existing entry.
func (s *Store) Trust(host string, port int, der []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := certutil.Fingerprint(der)
	now := time.Now().UTC()

	firstSeen := now
	existing, err := s.getLocked(host, port)
	if err != nil {
		return fmt.Errorf("tofu: trust lookup: %w", err)
	}
	if existing != nil {
		firstSeen = existing.FirstSeen
	}

	return s.putLocked(key(host, port), Entry{
		Hostname:    host,
		Port:        port,
		Fingerprint: fp,
		FirstSeen:   firstSeen,
		LastSeen:    now,
	})
}

func (s *Store) putLocked(k []byte, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("tofu: encode entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}

// Revoke removes any stored entry for host:port. A subsequent Verify
// classifies as ResultFirstUse.
func (s *Store) Revoke(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(host, port))
	})
	if err != nil {
		return fmt.Errorf("tofu: revoke: %w", err)
	}
	return nil
}

// Get returns the entry for host:port, or nil if none exists.
func (s *Store) Get(host string, port int) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(host, port)
}

func (s *Store) getLocked(host string, port int) (*Entry, error) {
	var found *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(host, port))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e, err := decodeEntry(val)
			if err != nil {
				return err
			}
			found = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("tofu: get: %w", err)
	}
	return found, nil
}

// List returns every stored entry, ordered by LastSeen descending, the
// same ordering the original nauyaca TOFUDatabase.list_hosts used.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tofu: list: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries, nil
}
