package datastore_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/WoushouW/woushBOT/pkg/datastore"
	"github.com/WoushouW/woushBOT/pkg/ledger"

	"github.com/google/go-cmp/cmp"
)

func NewTestLedger(t *testing.T) (*datastore.Ledger, string, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("datastore_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, dbPath, nil
}

func TestMigrationsApplied(t *testing.T) {
	st, _, err := NewTestLedger(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	got, err := st.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if got != 1 {
		t.Errorf("SchemaVersion = %d, want 1", got)
	}
}

func TestAppendScanAll(t *testing.T) {
	t.Parallel()

	type tcase struct {
		rows map[ledger.Sheet][]ledger.Row
		scan ledger.Sheet
		want []ledger.Row
	}

	tcases := map[string]tcase{
		"empty_sheet": {
			rows: map[ledger.Sheet][]ledger.Row{},
			scan: ledger.SheetResources,
			want: []ledger.Row{},
		},
		"append_order_kept": {
			rows: map[ledger.Sheet][]ledger.Row{
				ledger.SheetWarnings: {{"1", "u1"}, {"2", "u2"}, {"3", "u1"}},
			},
			scan: ledger.SheetWarnings,
			want: []ledger.Row{{"1", "u1"}, {"2", "u2"}, {"3", "u1"}},
		},
		"sheets_isolated": {
			rows: map[ledger.Sheet][]ledger.Row{
				ledger.SheetWarnings:    {{"w"}},
				ledger.SheetPunishments: {{"p"}},
			},
			scan: ledger.SheetPunishments,
			want: []ledger.Row{{"p"}},
		},
		"empty_and_unicode_cells": {
			rows: map[ledger.Sheet][]ledger.Row{
				ledger.SheetModeration: {{"", "Автобан: 3 предупреждения", ""}},
			},
			scan: ledger.SheetModeration,
			want: []ledger.Row{{"", "Автобан: 3 предупреждения", ""}},
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			st, _, err := NewTestLedger(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}
			ctx := context.Background()
			for sheet, rows := range tc.rows {
				for _, r := range rows {
					if err := st.Append(ctx, sheet, r); err != nil {
						t.Fatalf("Append: %v", err)
					}
				}
			}

			got, err := st.ScanAll(ctx, tc.scan)
			if err != nil {
				t.Fatalf("ScanAll: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ScanAll mismatch (-want +got):\n%s", diff)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestUpdateFieldAndDelete(t *testing.T) {
	st, path, err := NewTestLedger(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ctx := context.Background()

	for _, r := range []ledger.Row{
		{"r1", "Squad", "active"},
		{"r2", "Duo", "active"},
	} {
		if err := st.Append(ctx, ledger.SheetResources, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := st.UpdateField(ctx, ledger.SheetResources, ledger.Match(0, "r1"), 2, "expired")
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if n != 1 {
		t.Errorf("UpdateField changed %d rows, want 1", n)
	}

	n, err = st.UpdateField(ctx, ledger.SheetResources, ledger.Match(0, "r2"), 4, "grown")
	if err != nil || n != 1 {
		t.Fatalf("UpdateField past row end = %d, %v", n, err)
	}

	want := []ledger.Row{
		{"r1", "Squad", "expired"},
		{"r2", "Duo", "active", "", "grown"},
	}
	got, _ := st.ScanAll(ctx, ledger.SheetResources)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows after update mismatch (-want +got):\n%s", diff)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer raw.Close()
	var stamped int
	if err := raw.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_rows WHERE updated_at IS NOT NULL").Scan(&stamped); err != nil {
		t.Fatalf("count updated rows: %v", err)
	}
	if stamped != 2 {
		t.Errorf("rows with updated_at = %d, want 2", stamped)
	}

	n, err = st.DeleteMatching(ctx, ledger.SheetResources, ledger.Match(2, "expired"))
	if err != nil || n != 1 {
		t.Fatalf("DeleteMatching = %d, %v, want 1, nil", n, err)
	}
	got, _ = st.ScanAll(ctx, ledger.SheetResources)
	if diff := cmp.Diff(want[1:], got); diff != "" {
		t.Errorf("rows after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	st, path, err := NewTestLedger(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ctx := context.Background()
	if err := st.Append(ctx, ledger.SheetPunishments, ledger.Row{"u1", "ban"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.ScanAll(ctx, ledger.SheetPunishments)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if diff := cmp.Diff([]ledger.Row{{"u1", "ban"}}, got); diff != "" {
		t.Errorf("rows after reopen mismatch (-want +got):\n%s", diff)
	}
}
