package tofu

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// MergeStrategy controls how Import reconciles an incoming entry with
// one already present in the store.
type MergeStrategy int

const (
	// MergeKeepExisting skips any host:port already present.
	MergeKeepExisting MergeStrategy = iota
	// MergeReplace overwrites any host:port already present.
	MergeReplace
)

// ConflictFunc, when non-nil, is invoked for every host:port that
// exists in both the store and the imported data, letting the caller
// veto or force a particular resolution. Returning true accepts the
// incoming entry regardless of strategy.
type ConflictFunc func(existing, incoming Entry) (accept bool)

const timeLayout = time.RFC3339

// Export writes every stored entry to w in the text-table format of
// spec.md §6.6: a "[_metadata]" section followed by one "[host:port]"
// table per entry.
func (s *Store) Export(w io.Writer) error {
	entries, err := s.List()
	if err != nil {
		return err
	}

	f := ini.Empty()

	meta, err := f.NewSection("_metadata")
	if err != nil {
		return fmt.Errorf("tofu: export metadata section: %w", err)
	}
	if _, err := meta.NewKey("exported_at", time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("tofu: export metadata key: %w", err)
	}
	if _, err := meta.NewKey("version", "1.0"); err != nil {
		return fmt.Errorf("tofu: export metadata key: %w", err)
	}

	for _, e := range entries {
		sectionName := fmt.Sprintf("%s:%d", e.Hostname, e.Port)
		sec, err := f.NewSection(sectionName)
		if err != nil {
			return fmt.Errorf("tofu: export section %s: %w", sectionName, err)
		}
		if _, err := sec.NewKey("hostname", e.Hostname); err != nil {
			return err
		}
		if _, err := sec.NewKey("port", strconv.Itoa(e.Port)); err != nil {
			return err
		}
		if _, err := sec.NewKey("fingerprint", e.Fingerprint); err != nil {
			return err
		}
		if _, err := sec.NewKey("first_seen", e.FirstSeen.UTC().Format(timeLayout)); err != nil {
			return err
		}
		if _, err := sec.NewKey("last_seen", e.LastSeen.UTC().Format(timeLayout)); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("tofu: export write: %w", err)
	}
	return nil
}

// Import reads entries from r in the format Export produces and merges
// them into the store according to strategy, consulting onConflict
// (which may be nil) whenever an entry already exists.
func (s *Store) Import(r io.Reader, strategy MergeStrategy, onConflict ConflictFunc) error {
	f, err := ini.Load(r)
	if err != nil {
		return fmt.Errorf("tofu: import parse: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection || sec.Name() == "_metadata" {
			continue
		}
		if !sec.HasKey("hostname") || !sec.HasKey("fingerprint") {
			continue
		}

		hostname := sec.Key("hostname").String()
		port, err := sec.Key("port").Int()
		if err != nil {
			return fmt.Errorf("tofu: import section %s: invalid port: %w", sec.Name(), err)
		}
		fingerprint := sec.Key("fingerprint").String()
		firstSeen, err := time.Parse(timeLayout, sec.Key("first_seen").String())
		if err != nil {
			return fmt.Errorf("tofu: import section %s: invalid first_seen: %w", sec.Name(), err)
		}
		lastSeen, err := time.Parse(timeLayout, sec.Key("last_seen").String())
		if err != nil {
			return fmt.Errorf("tofu: import section %s: invalid last_seen: %w", sec.Name(), err)
		}

		incoming := Entry{
			Hostname:    hostname,
			Port:        port,
			Fingerprint: fingerprint,
			FirstSeen:   firstSeen,
			LastSeen:    lastSeen,
		}

		existing, err := s.getLocked(hostname, port)
		if err != nil {
			return err
		}

		accept := true
		if existing != nil {
			switch {
			case onConflict != nil:
				accept = onConflict(*existing, incoming)
			case strategy == MergeKeepExisting:
				accept = false
			case strategy == MergeReplace:
				accept = true
			}
		}
		if !accept {
			continue
		}

		if err := s.putLocked(key(hostname, port), incoming); err != nil {
			return fmt.Errorf("tofu: import section %s: %w", sec.Name(), err)
		}
	}

	return nil
}
