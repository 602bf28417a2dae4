// Package ledger persists transactions as an append-only WAL. Every
// entry is written atomically and replayed in strict append order;
// decimals travel as exact strings inside the JSON payloads.
package ledger

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/holdwatch/holdwatch/internal/domain"
)

const (
	defaultLedgerDir        = "./wal/ledger"
	entryKeyPrefix          = "ledger_entry_"
	defaultSegmentThreshold = 1000
	dirPermissions          = 0o755

	// The WAL rotates out its oldest segment once the segment cap is
	// exceeded. The ledger replays from entry 1, so its history must
	// never be dropped: the cap stays effectively unbounded.
	maxSegments = math.MaxInt32
)

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	segmentThreshold int
}

// WithSegmentThreshold sets how many entries one WAL segment file
// holds before a new segment starts. Retention is unaffected; old
// segments are kept forever.
func WithSegmentThreshold(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.segmentThreshold = n
		}
	}
}

// Store is the WAL-backed ledger. The WAL index doubles as the
// monotonic entry ID.
type Store struct {
	mu  sync.Mutex
	wal *gowal.Wal
}

// NewStore opens (or creates) the ledger WAL under dir.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = defaultLedgerDir
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure ledger directory %s", dir)
	}

	cfg := storeConfig{segmentThreshold: defaultSegmentThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: cfg.segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	return &Store{wal: wal}, nil
}

// Append validates the draft and persists one entry. On a write
// failure nothing is observable and the error wraps ErrPersistence;
// on a validation failure nothing is persisted at all. RealizedUSD and
// the partial-match flag are computed by the cost-basis engine before
// the append and stored verbatim.
func (s *Store) Append(draft domain.EntryDraft, realized decimal.Decimal, partialMatch bool) (domain.LedgerEntry, error) {
	draft = draft.Canonical()
	if err := draft.Validate(); err != nil {
		return domain.LedgerEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := domain.LedgerEntry{
		ID:           s.wal.CurrentIndex() + 1,
		Timestamp:    draft.Timestamp,
		Asset:        draft.Asset,
		Side:         draft.Side,
		Quantity:     draft.Quantity,
		PriceUSD:     draft.PriceUSD,
		FeeUSD:       draft.FeeUSD,
		RealizedUSD:  realized,
		PartialMatch: partialMatch,
		TxID:         draft.TxID,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return domain.LedgerEntry{}, errors.Wrap(err, "marshal ledger entry")
	}

	key := entryKeyPrefix + entry.Asset
	if err := s.wal.Write(entry.ID, key, payload); err != nil {
		return domain.LedgerEntry{}, errors.Wrapf(domain.ErrPersistence, "wal write for %s: %v", entry.Asset, err)
	}

	return entry, nil
}

// ReadAll returns entries in strict append order. An empty asset
// returns the whole ledger; otherwise only that asset's entries.
func (s *Store) ReadAll(asset string) ([]domain.LedgerEntry, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.LedgerEntry
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, entryKeyPrefix) {
			continue
		}
		var entry domain.LedgerEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			return nil, errors.Wrapf(err, "decode ledger entry under key %s", msg.Key)
		}
		if asset != "" && entry.Asset != asset {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CurrentIndex returns the ID of the latest appended entry, zero when
// the ledger is empty.
func (s *Store) CurrentIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
