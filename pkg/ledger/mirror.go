package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/WoushouW/woushBOT/pkg/apperr"
)

const DefaultMirrorTimeout = 5 * time.Second

// Mirror is the best-effort write-through side of the two-tier store.
// The in-memory registries of the managers are authoritative; Mirror
// copies their transitions into a Ledger, logging failures and reporting
// them to an optional hook instead of returning them. Every call is
// bounded by the mirror timeout.
type Mirror struct {
	ledger    Ledger
	logger    *slog.Logger
	timeout   time.Duration
	onFailure func(sheet Sheet, op string)
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

func WithMirrorLogger(l *slog.Logger) MirrorOption {
	return func(m *Mirror) { m.logger = l }
}

func WithMirrorTimeout(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithFailureHook registers fn to be called after each failed write.
func WithFailureHook(fn func(sheet Sheet, op string)) MirrorOption {
	return func(m *Mirror) { m.onFailure = fn }
}

// NewMirror wraps l.
func NewMirror(l Ledger, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		ledger:  l,
		logger:  slog.Default(),
		timeout: DefaultMirrorTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Append writes row and reports whether it succeeded.
func (m *Mirror) Append(ctx context.Context, sheet Sheet, row Row) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.ledger.Append(ctx, sheet, row); err != nil {
		m.fail(sheet, "append", err)
		return false
	}
	return true
}

// UpdateField rewrites the matched rows and returns how many changed.
// It returns 0 when the ledger failed.
func (m *Mirror) UpdateField(ctx context.Context, sheet Sheet, match Predicate, field int, value string) int {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	n, err := m.ledger.UpdateField(ctx, sheet, match, field, value)
	if err != nil {
		m.fail(sheet, "update", err)
		return 0
	}
	return n
}

// Scan reads a whole sheet. Unlike the write methods it returns the
// failure, classified as an external store error, because startup
// recovery has to know that it recovered nothing.
func (m *Mirror) Scan(ctx context.Context, sheet Sheet) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	rows, err := m.ledger.ScanAll(ctx, sheet)
	if err != nil {
		m.fail(sheet, "scan", err)
		return nil, apperr.ExternalStore("ledger.scan "+string(sheet), err)
	}
	return rows, nil
}

func (m *Mirror) fail(sheet Sheet, op string, err error) {
	m.logger.Warn("ledger write degraded, in-memory state stays authoritative",
		"sheet", string(sheet), "op", op, "err", err)
	if m.onFailure != nil {
		m.onFailure(sheet, op)
	}
}
