package throw

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/storage"
)

// maxIDAttempts bounds id regeneration on collision.
const maxIDAttempts = 64

// Log is the append-only chain of throws. All records are loaded at Open;
// writes go through AppendTxn inside a caller's transaction and become
// visible in memory with Commit once that transaction succeeded.
type Log struct {
	records *storage.BadgerStore
	seqs    *storage.BadgerStore
	logger  *zap.Logger

	mu      sync.RWMutex
	byID    map[string]*Record
	lastSeq uint64
	newID   func() (string, error)

	// chainMu guards the cached chain. order is root-first, ending at tip.
	chainMu sync.Mutex
	tip     string
	order   []string
	pos     map[string]int
}

func Open(db *badger.DB, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		records: storage.NewBadgerStore(db, "throw"),
		seqs:    storage.NewBadgerStore(db, "throw_seq"),
		logger:  logger,
		byID:    make(map[string]*Record),
		newID:   GenerateID,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	var entries []seqEntry
	if err := l.seqs.List(&entries); err != nil {
		return fmt.Errorf("loading throw sequence: %w", err)
	}

	for _, e := range entries {
		var r Record
		if err := l.records.Get(e.ID, &r); err != nil {
			if errors.Is(err, errors.KindNotFound) {
				return errors.Corruption(fmt.Sprintf("sequence %d names a missing throw", e.Seq)).WithRecord(e.ID)
			}
			return err
		}
		if r.Seq != e.Seq {
			return errors.Corruption(fmt.Sprintf("throw has seq %d, indexed as %d", r.Seq, e.Seq)).WithRecord(r.ID)
		}
		l.byID[r.ID] = &r
		l.lastSeq = r.Seq
	}

	l.logger.Debug("loaded throw log", zap.Int("records", len(l.byID)))
	return nil
}

func (l *Log) Get(id string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.byID[id]
	if !ok {
		return nil, errors.NotFound("unknown record").WithRecord(id)
	}
	return r, nil
}

func (l *Log) Exists(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[id]
	return ok
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// Records returns every record in append order, detached ones included.
func (l *Log) Records() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Record, 0, len(l.byID))
	for _, r := range l.byID {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// NewRecord builds the next record on top of parentID with a fresh id.
// Ids that collide with an existing record are regenerated.
func (l *Log) NewRecord(parentID string, changes ChangeSet, message string) (*Record, error) {
	if err := changes.Validate(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if parentID != "" {
		if _, ok := l.byID[parentID]; !ok {
			return nil, errors.NotFound("unknown parent record").WithRecord(parentID)
		}
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := l.newID()
		if err != nil {
			return nil, err
		}
		if _, taken := l.byID[id]; taken {
			l.logger.Debug("throw id collision, regenerating", zap.String("record", id))
			continue
		}
		return &Record{
			ID:        id,
			ParentID:  parentID,
			Seq:       l.lastSeq + 1,
			Changes:   changes.Clone(),
			Message:   message,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return nil, errors.Conflict(fmt.Sprintf("no free throw id after %d attempts", maxIDAttempts))
}

// AppendTxn writes r and its sequence entry within txn.
func (l *Log) AppendTxn(txn *badger.Txn, r *Record) error {
	if err := l.records.CreateTxn(txn, r); err != nil {
		return err
	}
	return l.seqs.CreateTxn(txn, &seqEntry{Seq: r.Seq, ID: r.ID})
}

// Commit makes r visible after its AppendTxn transaction committed.
func (l *Log) Commit(r *Record) {
	l.mu.Lock()
	l.byID[r.ID] = r
	if r.Seq > l.lastSeq {
		l.lastSeq = r.Seq
	}
	l.mu.Unlock()

	l.chainMu.Lock()
	defer l.chainMu.Unlock()
	if l.pos != nil && l.tip == r.ParentID {
		l.pos[r.ID] = len(l.order)
		l.order = append(l.order, r.ID)
		l.tip = r.ID
	} else if r.ParentID == "" && l.tip == "" {
		l.resetChain([]string{r.ID})
	}
}

// Chain returns the records from the root to target, inclusive. An empty
// target is the empty chain. Unknown targets are NotFound; links to missing
// records and cycles are Corruption.
func (l *Log) Chain(target string) ([]*Record, error) {
	if target == "" {
		return nil, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.byID[target]; !ok {
		return nil, errors.NotFound("unknown record").WithRecord(target)
	}

	l.chainMu.Lock()
	if i, ok := l.pos[target]; ok {
		ids := l.order[:i+1]
		out := make([]*Record, len(ids))
		for j, id := range ids {
			out[j] = l.byID[id]
		}
		l.chainMu.Unlock()
		return out, nil
	}
	l.chainMu.Unlock()

	chain, err := l.walk(target)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(chain))
	for i, r := range chain {
		ids[i] = r.ID
	}
	l.chainMu.Lock()
	l.resetChain(ids)
	l.chainMu.Unlock()

	return chain, nil
}

// walk follows ParentID links from target back to the root. Caller holds mu.
func (l *Log) walk(target string) ([]*Record, error) {
	var chain []*Record
	visited := make(map[string]bool)

	cur := l.byID[target]
	for {
		if visited[cur.ID] || len(chain) > len(l.byID) {
			return nil, errors.Corruption("cycle in throw chain").WithRecord(cur.ID)
		}
		visited[cur.ID] = true
		chain = append(chain, cur)

		if cur.IsRoot() {
			break
		}
		parent, ok := l.byID[cur.ParentID]
		if !ok {
			return nil, errors.Corruption(fmt.Sprintf("parent %s does not exist", cur.ParentID)).WithRecord(cur.ID)
		}
		if parent.Seq >= cur.Seq {
			return nil, errors.Corruption(fmt.Sprintf("parent %s is not older", parent.ID)).WithRecord(cur.ID)
		}
		cur = parent
	}

	slices.Reverse(chain)
	return chain, nil
}

func (l *Log) resetChain(ids []string) {
	l.order = ids
	l.pos = make(map[string]int, len(ids))
	for i, id := range ids {
		l.pos[id] = i
	}
	if len(ids) > 0 {
		l.tip = ids[len(ids)-1]
	} else {
		l.tip = ""
	}
}

// Verify checks that every record reaches the root and that head's chain is
// well formed.
func (l *Log) Verify(head string) error {
	for _, r := range l.Records() {
		if err := r.Changes.Validate(); err != nil {
			return fmt.Errorf("throw %s: %w", r.ID, err)
		}
		l.mu.RLock()
		_, err := l.walk(r.ID)
		l.mu.RUnlock()
		if err != nil {
			return err
		}
	}
	if _, err := l.Chain(head); err != nil {
		return err
	}
	return nil
}
