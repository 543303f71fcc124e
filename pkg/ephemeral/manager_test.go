package ephemeral

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/bridge"
	"github.com/WoushouW/woushBOT/pkg/clock"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/platform"
	"github.com/WoushouW/woushBOT/pkg/platform/memory"
	"github.com/WoushouW/woushBOT/pkg/session"
)

var epoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	loop *session.Loop
	fake *clock.FakeClock
	sim  *memory.Platform
	led  *ledger.MemoryLedger
	mgr  *Manager
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake: clock.Fake(epoch),
		sim:  memory.New(),
		led:  ledger.NewMemory(),
	}
	h.sim.AddScope("g1", "Guild")
	h.sim.AddSubject("g1", "U1", "alice")
	h.sim.AddSubject("g1", "U2", "bob")

	h.loop = session.NewLoop(session.WithClock(h.fake), session.WithLogger(discard()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.loop.Done()
	})

	b := bridge.New(h.loop, bridge.WithLogger(discard()))
	mirror := ledger.NewMirror(h.led, ledger.WithMirrorLogger(discard()))
	h.mgr = New(Config{ParentContainerID: "cat"}, h.loop, b, h.sim, mirror, WithLogger(discard()))
	return h
}

// onLoop runs fn on the loop and waits for it.
func (h *harness) onLoop(t *testing.T, fn func(ctx context.Context)) {
	t.Helper()
	done := make(chan struct{})
	if err := h.loop.Enqueue(func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop task did not run")
	}
}

func (h *harness) pendingTimers(t *testing.T) int {
	t.Helper()
	var n int
	h.onLoop(t, func(context.Context) { n = h.loop.PendingTimers() })
	return n
}

func squad() model.ResourceSpec {
	return model.ResourceSpec{ScopeID: "g1", Name: "Squad", OwnerID: "U1", DurationMinutes: 2, Capacity: 5}
}

func ledgerStatus(t *testing.T, led *ledger.MemoryLedger, id string) string {
	t.Helper()
	for _, r := range led.Rows(ledger.SheetResources) {
		if r.Cell(ledger.ResourceID) == id {
			return r.Cell(ledger.ResourceStatus)
		}
	}
	t.Fatalf("no ledger row for %s", id)
	return ""
}

func TestCreateExpiresAtMatchesDuration(t *testing.T) {
	h := newHarness(t)

	for d := model.MinResourceDurationMinutes; d <= model.MaxResourceDurationMinutes; d++ {
		spec := squad()
		spec.DurationMinutes = d
		spec.Capacity = 1 + (d-1)%model.MaxResourceCapacity
		res, err := h.mgr.Create(spec)
		if err != nil {
			t.Fatalf("Create(duration=%d, capacity=%d): %v", d, spec.Capacity, err)
		}
		if want := res.CreatedAt.Add(time.Duration(d) * time.Minute); !res.ExpiresAt.Equal(want) {
			t.Errorf("duration %d: ExpiresAt = %v, want %v", d, res.ExpiresAt, want)
		}
	}

	active, err := h.mgr.ListActive("g1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != model.MaxResourceDurationMinutes {
		t.Errorf("active = %d, want %d", len(active), model.MaxResourceDurationMinutes)
	}
	if pending := h.pendingTimers(t); pending != model.MaxResourceDurationMinutes {
		t.Errorf("pending timers = %d, want %d", pending, model.MaxResourceDurationMinutes)
	}
}

func TestCreateBuildsRoom(t *testing.T) {
	h := newHarness(t)

	spec := squad()
	spec.MemberIDs = []string{"U2", "U1"}
	res, err := h.mgr.Create(spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := model.Resource{
		ID:              res.ID,
		Name:            "Squad",
		ScopeID:         "g1",
		ScopeLabel:      "Guild",
		OwnerID:         "U1",
		OwnerLabel:      "alice",
		MemberIDs:       []string{"U1", "U2"},
		AccessGroupID:   res.AccessGroupID,
		DurationMinutes: 2,
		Capacity:        5,
		CreatedAt:       epoch,
		ExpiresAt:       epoch.Add(2 * time.Minute),
		Status:          model.ResourceActive,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Create mismatch (-want +got):\n%s", diff)
	}

	g, ok := h.sim.Group(res.AccessGroupID)
	if !ok {
		t.Fatal("access group not created")
	}
	if g.Name != "Room(Squad)" {
		t.Errorf("group name = %q, want Room(Squad)", g.Name)
	}
	if diff := cmp.Diff([]string{"U1", "U2"}, g.Members); diff != "" {
		t.Errorf("group members mismatch (-want +got):\n%s", diff)
	}

	c, ok := h.sim.Container(res.ID)
	if !ok {
		t.Fatal("container not created")
	}
	wantOverrides := []platform.Override{
		{Kind: platform.TargetDefault, Allow: platform.PermView, Deny: platform.PermConnect},
		{Kind: platform.TargetGroup, TargetID: res.AccessGroupID, Allow: platform.PermView | platform.PermConnect | platform.PermSpeak},
		{Kind: platform.TargetMember, TargetID: "U1", Allow: platform.PermView | platform.PermConnect | platform.PermSpeak | platform.PermManageRoles},
	}
	if diff := cmp.Diff(wantOverrides, c.Spec.Overrides); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
	if c.Spec.ParentID != "cat" || c.Spec.Capacity != 5 {
		t.Errorf("container spec = %+v", c.Spec)
	}

	if got := ledgerStatus(t, h.led, res.ID); got != "active" {
		t.Errorf("ledger status = %q, want active", got)
	}
}

func TestCreateTrimsPaddedInput(t *testing.T) {
	h := newHarness(t)

	spec := squad()
	spec.Name = strings.Repeat(" ", 20) + "Squad" + strings.Repeat(" ", 20)
	spec.OwnerID = " U1 "
	spec.ScopeID = "g1 "
	res, err := h.mgr.Create(spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Name != "Squad" || res.OwnerID != "U1" || res.ScopeID != "g1" {
		t.Errorf("Create = %+v, want trimmed name and ids", res)
	}

	c, ok := h.sim.Container(res.ID)
	if !ok {
		t.Fatal("container not created")
	}
	if c.Spec.Name != "Squad" {
		t.Errorf("container name = %q, want Squad", c.Spec.Name)
	}
	g, _ := h.sim.Group(res.AccessGroupID)
	if g.Name != "Room(Squad)" {
		t.Errorf("group name = %q, want Room(Squad)", g.Name)
	}
	for _, r := range h.led.Rows(ledger.SheetResources) {
		if got := r.Cell(ledger.ResourceName); got != "Squad" {
			t.Errorf("ledger name = %q, want Squad", got)
		}
	}

	spec.Name = " " + strings.Repeat("a", model.MaxResourceNameLength+1) + " "
	if _, err := h.mgr.Create(spec); !errors.Is(err, model.ErrResourceNameTooLong) {
		t.Errorf("padded long name = %v, want ErrResourceNameTooLong", err)
	}
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	type tcase struct {
		mutate func(*model.ResourceSpec)
		is     error
	}

	tcases := map[string]tcase{
		"duration zero":  {mutate: func(s *model.ResourceSpec) { s.DurationMinutes = 0 }, is: model.ErrResourceDuration},
		"duration 91":    {mutate: func(s *model.ResourceSpec) { s.DurationMinutes = 91 }, is: model.ErrResourceDuration},
		"capacity zero":  {mutate: func(s *model.ResourceSpec) { s.Capacity = 0 }, is: model.ErrResourceCapacity},
		"capacity 51":    {mutate: func(s *model.ResourceSpec) { s.Capacity = 51 }, is: model.ErrResourceCapacity},
		"name too long":  {mutate: func(s *model.ResourceSpec) { s.Name = "abcdefghijklmnopqrstuvwxyz12345" }, is: model.ErrResourceNameTooLong},
		"unknown owner":  {mutate: func(s *model.ResourceSpec) { s.OwnerID = "ghost" }},
		"unknown member": {mutate: func(s *model.ResourceSpec) { s.MemberIDs = []string{"ghost"} }},
		"unknown scope":  {mutate: func(s *model.ResourceSpec) { s.ScopeID = "nowhere" }},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			spec := squad()
			tc.mutate(&spec)

			_, err := h.mgr.Create(spec)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("Create = %v, want ErrValidation", err)
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Errorf("Create = %v, want wrapping %v", err, tc.is)
			}

			if n := h.sim.Calls(memory.OpCreateAccessGroup); n != 0 {
				t.Errorf("access groups created = %d, want 0", n)
			}
			if n := len(h.led.Rows(ledger.SheetResources)); n != 0 {
				t.Errorf("ledger rows = %d, want 0", n)
			}
			if n := h.pendingTimers(t); n != 0 {
				t.Errorf("pending timers = %d, want 0", n)
			}
		})
	}
}

func TestCreateCleansUpOnPlatformFailure(t *testing.T) {
	h := newHarness(t)
	h.sim.FailOn(memory.OpCreateContainer, errors.New("50013 missing permissions"))

	_, err := h.mgr.Create(squad())
	if !errors.Is(err, apperr.ErrExecution) {
		t.Fatalf("Create = %v, want ErrExecution", err)
	}
	if n := h.sim.Calls(memory.OpDeleteAccessGroup); n != 1 {
		t.Errorf("access group deletes = %d, want 1", n)
	}
	if n := len(h.led.Rows(ledger.SheetResources)); n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
	active, _ := h.mgr.ListActive("")
	if len(active) != 0 {
		t.Errorf("active = %v, want none", active)
	}
}

func TestEarlyTerminateTwice(t *testing.T) {
	h := newHarness(t)
	res, err := h.mgr.Create(squad())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := h.mgr.EarlyTerminate(res.ID); err != nil {
		t.Fatalf("first EarlyTerminate: %v", err)
	}
	got, err := h.mgr.Lookup(res.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Status != model.ResourceDeletedByAdmin {
		t.Errorf("status = %s, want deleted_by_admin", got.Status)
	}

	if err := h.mgr.EarlyTerminate(res.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second EarlyTerminate = %v, want ErrConflict", err)
	}
	if n := h.sim.Calls(memory.OpDeleteContainer); n != 1 {
		t.Errorf("container deletes = %d, want 1", n)
	}
	if n := h.sim.Calls(memory.OpDeleteAccessGroup); n != 1 {
		t.Errorf("group deletes = %d, want 1", n)
	}
	if got := ledgerStatus(t, h.led, res.ID); got != "deleted_by_admin" {
		t.Errorf("ledger status = %q, want deleted_by_admin", got)
	}
	if n := h.pendingTimers(t); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestEarlyTerminateUnknownIsConflict(t *testing.T) {
	h := newHarness(t)
	if err := h.mgr.EarlyTerminate("nope"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("EarlyTerminate = %v, want ErrConflict", err)
	}
	if _, err := h.mgr.Lookup("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Lookup = %v, want ErrNotFound", err)
	}
}

func TestEarlyTerminateFailureIsRetriable(t *testing.T) {
	h := newHarness(t)
	res, _ := h.mgr.Create(squad())

	h.sim.FailOn(memory.OpDeleteContainer, errors.New("503 upstream"))
	if err := h.mgr.EarlyTerminate(res.ID); !errors.Is(err, apperr.ErrExecution) {
		t.Fatalf("EarlyTerminate = %v, want ErrExecution", err)
	}
	active, _ := h.mgr.ListActive("g1")
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if n := h.pendingTimers(t); n != 1 {
		t.Errorf("pending timers = %d, want 1", n)
	}

	h.sim.FailOn(memory.OpDeleteContainer, nil)
	if err := h.mgr.EarlyTerminate(res.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRoomExpires(t *testing.T) {
	h := newHarness(t)

	res, err := h.mgr.Create(squad())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	h.fake.Advance(121 * time.Second)

	active, err := h.mgr.ListActive("g1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active = %v, want none", active)
	}
	got, _ := h.mgr.Lookup(res.ID)
	if got.Status != model.ResourceExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if _, ok := h.sim.Container(res.ID); ok {
		t.Error("container still exists")
	}
	if _, ok := h.sim.Group(res.AccessGroupID); ok {
		t.Error("access group still exists")
	}
	if got := ledgerStatus(t, h.led, res.ID); got != "expired" {
		t.Errorf("ledger status = %q, want expired", got)
	}
	if err := h.mgr.EarlyTerminate(res.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("EarlyTerminate after expiry = %v, want ErrConflict", err)
	}
}

func TestExpiryToleratesMissingContainer(t *testing.T) {
	h := newHarness(t)
	res, _ := h.mgr.Create(squad())

	// Gone without an event reaching the manager.
	h.sim.DeleteContainerExternally(res.ID)
	h.fake.Advance(3 * time.Minute)

	got, err := h.mgr.Lookup(res.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Status != model.ResourceExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestContainerDeletedEvent(t *testing.T) {
	h := newHarness(t)
	res, _ := h.mgr.Create(squad())

	d := session.NewDispatcher(discard())
	h.mgr.RegisterHandlers(d)
	h.onLoop(t, func(ctx context.Context) {
		d.Dispatch(ctx, platform.ContainerDeletedEvent{ScopeID: "g1", ContainerID: res.ID})
		d.Dispatch(ctx, platform.ContainerDeletedEvent{ScopeID: "g1", ContainerID: "unrelated"})
	})

	got, _ := h.mgr.Lookup(res.ID)
	if got.Status != model.ResourceOrphanCleaned {
		t.Errorf("status = %s, want orphan_cleaned", got.Status)
	}
	if n := h.pendingTimers(t); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	row := func(id string, expiresAt time.Time, status model.ResourceStatus) ledger.Row {
		return encodeResource(model.Resource{
			ID: id, Name: id, ScopeID: "g1", ScopeLabel: "Guild",
			OwnerID: "U1", OwnerLabel: "alice", MemberIDs: []string{"U1"},
			AccessGroupID: "grp-" + id, DurationMinutes: 30, Capacity: 5,
			CreatedAt: expiresAt.Add(-30 * time.Minute), ExpiresAt: expiresAt, Status: status,
		})
	}
	broken := row("broken", epoch.Add(time.Minute), model.ResourceActive)
	broken[ledger.ResourceDurationMinutes] = "thirty"

	for _, r := range []ledger.Row{
		row("live", epoch.Add(5*time.Minute), model.ResourceActive),
		row("gone", epoch.Add(10*time.Minute), model.ResourceActive),
		row("overdue", epoch.Add(-time.Minute), model.ResourceActive),
		row("old", epoch.Add(-time.Hour), model.ResourceExpired),
		row("live", epoch.Add(5*time.Minute), model.ResourceActive),
		broken,
	} {
		_ = h.led.Append(ctx, ledger.SheetResources, r)
	}
	h.sim.PutContainer("live", platform.ContainerSpec{ScopeID: "g1", Name: "live"})
	h.sim.PutContainer("overdue", platform.ContainerSpec{ScopeID: "g1", Name: "overdue"})

	var rep ReconcileReport
	var err error
	var liveAt time.Time
	var pending int
	h.onLoop(t, func(ctx context.Context) {
		rep, err = h.mgr.Reconcile(ctx)
		if e, ok := h.mgr.active["live"]; ok {
			liveAt = e.timer.At()
		}
		pending = h.loop.PendingTimers()
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// The duplicate "live" row and "broken" are skipped; "old" is not active.
	want := ReconcileReport{Restored: 1, Expired: 1, Orphaned: 1, Skipped: 2}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if pending != 1 {
		t.Errorf("pending timers = %d, want 1", pending)
	}
	if !liveAt.Equal(epoch.Add(5 * time.Minute)) {
		t.Errorf("live timer at %v, want %v", liveAt, epoch.Add(5*time.Minute))
	}

	active, _ := h.mgr.ListActive("g1")
	if len(active) != 1 || active[0].ID != "live" {
		t.Errorf("active = %v, want only live", active)
	}
	if got := ledgerStatus(t, h.led, "gone"); got != "orphan_cleaned" {
		t.Errorf("gone ledger status = %q, want orphan_cleaned", got)
	}
	if got := ledgerStatus(t, h.led, "overdue"); got != "expired" {
		t.Errorf("overdue ledger status = %q, want expired", got)
	}
	if _, ok := h.sim.Container("overdue"); ok {
		t.Error("overdue container not deleted")
	}
	if n := h.sim.Calls(memory.OpContainerExists); n != 3 {
		t.Errorf("container lookups = %d, want 3", n)
	}

	// Continuation timer fires at the original deadline.
	h.fake.Advance(5 * time.Minute)
	active, _ = h.mgr.ListActive("g1")
	if len(active) != 0 {
		t.Errorf("active after deadline = %v, want none", active)
	}
}

func TestReconcileLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.led.SetUnavailable(true)

	var err error
	h.onLoop(t, func(ctx context.Context) { _, err = h.mgr.Reconcile(ctx) })
	if !errors.Is(err, apperr.ErrExternalStore) {
		t.Errorf("Reconcile = %v, want ErrExternalStore", err)
	}
}

func TestLedgerOutageDoesNotFailOperations(t *testing.T) {
	h := newHarness(t)
	h.led.SetUnavailable(true)

	res, err := h.mgr.Create(squad())
	if err != nil {
		t.Fatalf("Create with ledger down: %v", err)
	}
	if err := h.mgr.EarlyTerminate(res.ID); err != nil {
		t.Fatalf("EarlyTerminate with ledger down: %v", err)
	}
	if n := len(h.led.Rows(ledger.SheetResources)); n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
}
