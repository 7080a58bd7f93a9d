package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

func TestNewRegistry_LazyStartsUninitialized(t *testing.T) {
	reg := newTestRegistry(t, []types.ModelSpec{echoSpec("a", nil), echoSpec("b", nil)}, Options{})
	got := reg.List()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected list order: %+v", got)
	}
	for _, e := range got {
		if e.State != StateUninitialized {
			t.Fatalf("expected uninitialized, got %s for %s", e.State, e.ID)
		}
	}
}

func TestNewRegistry_EagerNeverLeavesUninitialized(t *testing.T) {
	specs := []types.ModelSpec{
		echoSpec("ok", nil),
		echoSpec("flaky", map[string]any{"fail_init": 1}),
		{ID: "broken", Kind: "nope"},
	}
	reg := newTestRegistry(t, specs, Options{InitMode: InitEager})
	want := map[string]State{"ok": StateReady, "flaky": StateFailed, "broken": StateFailed}
	for _, e := range reg.List() {
		if e.State == StateUninitialized {
			t.Fatalf("%s still uninitialized after eager construction", e.ID)
		}
		if e.State != want[e.ID] {
			t.Fatalf("%s: want %s got %s", e.ID, want[e.ID], e.State)
		}
	}
}

func TestNewRegistry_PerModelEager(t *testing.T) {
	specs := []types.ModelSpec{echoSpec("lazy", nil), {ID: "eager", Kind: "echo", Eager: true}}
	reg := newTestRegistry(t, specs, Options{InitMode: InitLazy})
	l := reg.List()
	if l[0].State != StateUninitialized || l[1].State != StateReady {
		t.Fatalf("unexpected states: %+v", l)
	}
}

func TestNewRegistry_DuplicateAndEmptyIDs(t *testing.T) {
	_, err := NewRegistry(context.Background(), []types.ModelSpec{echoSpec("a", nil), echoSpec("a", nil)}, Options{Logger: nopLogger()})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	_, err = NewRegistry(context.Background(), []types.ModelSpec{{ID: " ", Kind: "echo"}}, Options{Logger: nopLogger()})
	if err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestNewRegistry_FactoryPanicIsIsolated(t *testing.T) {
	build := func(spec types.ModelSpec) (engine.Engine, error) {
		if spec.ID == "boom" {
			panic("factory exploded")
		}
		return engine.Build(spec)
	}
	pub := NewMemoryPublisher()
	reg := newTestRegistry(t, []types.ModelSpec{echoSpec("boom", nil), echoSpec("fine", nil)}, Options{Build: build, Publisher: pub, InitMode: InitEager})
	h, err := reg.Get("boom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !h.ConstructFailed() || h.State() != StateFailed || !strings.Contains(h.LastError().Error(), "factory exploded") {
		t.Fatalf("unexpected handle: state=%s err=%v", h.State(), h.LastError())
	}
	if pub.Count(EventConstructFailed, "boom") != 1 {
		t.Fatalf("expected construct_failed event")
	}
	fine, _ := reg.Get("fine")
	if !fine.Ready() {
		t.Fatalf("sibling should be ready, got %s", fine.State())
	}
}

func TestRegistry_GetUnknownListsKnown(t *testing.T) {
	reg := newTestRegistry(t, []types.ModelSpec{echoSpec("a", nil), echoSpec("b", nil)}, Options{})
	_, err := reg.Get("zzz")
	if !IsModelNotFound(err) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
	var ge *Error
	if !errors.As(err, &ge) || len(ge.Known) != 2 || ge.Known[0] != "a" || ge.Known[1] != "b" {
		t.Fatalf("expected known ids [a b], got %+v", ge)
	}
	if !strings.Contains(err.Error(), "zzz") {
		t.Fatalf("message should name the id: %v", err)
	}
}

type closeErrEngine struct{ countingEngine }

func (*closeErrEngine) Close() error { return errors.New("close failed") }

func TestRegistry_CloseJoinsErrors(t *testing.T) {
	build := func(spec types.ModelSpec) (engine.Engine, error) { return &closeErrEngine{}, nil }
	reg, err := NewRegistry(context.Background(), []types.ModelSpec{{ID: "x", Kind: "any"}}, Options{Build: build, Logger: nopLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Close(); err == nil || !strings.Contains(err.Error(), "close x") {
		t.Fatalf("expected close error, got %v", err)
	}
}

func TestParseInitMode(t *testing.T) {
	for in, want := range map[string]InitMode{"": InitLazy, "LAZY": InitLazy, " eager ": InitEager} {
		got, err := ParseInitMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseInitMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseInitMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}
