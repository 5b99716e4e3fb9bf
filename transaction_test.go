package editor

import (
	"errors"
	"testing"
)

func TestPushWithoutTransactionExecutesImmediately(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)

	before := len(e.GetGraph().Commits)
	id, err := e.Push(NewUpdateLayer("opacity", "L1", LayerPatch{Opacity: Float(50)}))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if id == "" {
		t.Fatal("expected a commit id for a non-transactional push")
	}
	if got := len(e.GetGraph().Commits); got != before+1 {
		t.Fatalf("commits = %d, want %d", got, before+1)
	}
	l, _ := get().Layers.Get("L1")
	if l.Opacity != 50 {
		t.Errorf("opacity = %v, want 50", l.Opacity)
	}
}

func TestCancelTransactionDiscardsPendingCommands(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)
	before := get()
	beforeCount := len(e.GetGraph().Commits)

	e.BeginTransaction("discard me")
	e.Push(NewUpdateLayer("opacity", "L1", LayerPatch{Opacity: Float(10)}))
	e.CancelTransaction()

	if got := len(e.GetGraph().Commits); got != beforeCount {
		t.Fatalf("commits = %d, want %d (cancelled transaction commits nothing)", got, beforeCount)
	}
	if !statesEqual(before, get()) {
		t.Fatal("cancelling a transaction must not leave the mutated state applied")
	}
}

func TestEndTransactionFalseDiscards(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)
	before := get()
	beforeCount := len(e.GetGraph().Commits)

	e.BeginTransaction("discard me")
	e.Push(NewUpdateLayer("opacity", "L1", LayerPatch{Opacity: Float(10)}))
	if _, err := e.EndTransaction(false); err != nil {
		t.Fatalf("end transaction: %v", err)
	}
	if got := len(e.GetGraph().Commits); got != beforeCount {
		t.Fatalf("commits = %d, want %d", got, beforeCount)
	}
	if !statesEqual(before, get()) {
		t.Fatal("state must be unchanged after discarding a transaction")
	}
}

func TestEndTransactionWithoutOpenFrameErrors(t *testing.T) {
	base := InitialState(100, 100)
	e, _ := newTestEngine(base)
	if _, err := e.EndTransaction(true); err == nil {
		t.Fatal("expected an error ending a transaction when none is open")
	}
}

func TestCoalesceWindowBoundary(t *testing.T) {
	f := &txFrame{}
	a := NewSetViewport("a", ViewportPatch{Zoom: Float(110)})
	f.push(a, 200)
	b := NewSetViewport("b", ViewportPatch{Zoom: Float(120)})
	b.Meta_.Timestamp = a.Meta_.Timestamp.Add(1000 * 1_000_000) // +1000ms, outside a 200ms window
	f.push(b, 200)
	if len(f.commands) != 2 {
		t.Fatalf("commands = %d, want 2 (outside the coalesce window, commands must not merge)", len(f.commands))
	}
}

type failingStorage struct{}

func (failingStorage) Save(key string, data []byte) error { return errTestStorage }
func (failingStorage) Load(key string) ([]byte, bool, error) {
	return nil, false, errTestStorage
}

var errTestStorage = errors.New("storage unavailable")

func TestTriggerAutosaveReportsFailureWithoutPanicking(t *testing.T) {
	base := InitialState(100, 100)
	e, _ := newTestEngine(base)
	e.SetStorage(failingStorage{})
	var reported error
	e.SetOnError(func(err error) { reported = err })
	e.BeforeUnload()
	if reported == nil {
		t.Fatal("expected autosave failure to be reported via onError")
	}
}

func TestBeforeUnloadSucceedsWithDefaultStorage(t *testing.T) {
	base := InitialState(100, 100)
	e, _ := newTestEngine(base)
	var reported error
	e.SetOnError(func(err error) { reported = err })
	e.BeforeUnload()
	if reported != nil {
		t.Fatalf("unexpected autosave error with the default in-memory storage: %v", reported)
	}
}
