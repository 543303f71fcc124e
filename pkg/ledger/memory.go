package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-memory Ledger for tests and dry runs.
// SetUnavailable makes every call fail with ErrUnavailable.
type MemoryLedger struct {
	mu          sync.Mutex
	sheets      map[Sheet][]Row
	unavailable bool
	calls       int
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{sheets: make(map[Sheet][]Row)}
}

// SetUnavailable toggles simulated unreachability.
func (l *MemoryLedger) SetUnavailable(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = v
}

// Calls returns the number of calls made, including failed ones.
func (l *MemoryLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Rows returns a copy of sheet without counting as a call.
func (l *MemoryLedger) Rows(sheet Sheet) []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneRows(l.sheets[sheet])
}

func (l *MemoryLedger) begin(ctx context.Context) error {
	l.calls++
	if l.unavailable {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (l *MemoryLedger) Append(ctx context.Context, sheet Sheet, row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx); err != nil {
		return err
	}
	l.sheets[sheet] = append(l.sheets[sheet], row.Clone())
	return nil
}

func (l *MemoryLedger) ScanAll(ctx context.Context, sheet Sheet) ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx); err != nil {
		return nil, err
	}
	return cloneRows(l.sheets[sheet]), nil
}

func (l *MemoryLedger) UpdateField(ctx context.Context, sheet Sheet, match Predicate, field int, value string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx); err != nil {
		return 0, err
	}
	n := 0
	for i, r := range l.sheets[sheet] {
		if !match(r) {
			continue
		}
		l.sheets[sheet][i] = SetCell(r, field, value)
		n++
	}
	return n, nil
}

func (l *MemoryLedger) DeleteMatching(ctx context.Context, sheet Sheet, match Predicate) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx); err != nil {
		return 0, err
	}
	kept := l.sheets[sheet][:0]
	n := 0
	for _, r := range l.sheets[sheet] {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	l.sheets[sheet] = kept
	return n, nil
}

func (l *MemoryLedger) Close() error { return nil }

// SetCell returns r with r[field] = value, growing r when it is short.
func SetCell(r Row, field int, value string) Row {
	if field >= len(r) {
		grown := make(Row, field+1)
		copy(grown, r)
		r = grown
	}
	r[field] = value
	return r
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

var _ Ledger = (*MemoryLedger)(nil)
