package editor

import (
	"errors"
	"testing"
)

// newTestEngine wires an engine around a simple in-memory state cell, the
// shape every test in this file builds on.
func newTestEngine(initial CanonicalState) (*HistoryEngine, func() CanonicalState) {
	state := initial
	get := func() CanonicalState { return state }
	set := func(s CanonicalState) { state = s }
	e := NewHistoryEngine(get, set, DefaultOptions())
	return e, get
}

func mustLayerOpacity(t *testing.T, s CanonicalState, id LayerID) float64 {
	t.Helper()
	l, ok := s.Layers.Get(id)
	if !ok {
		t.Fatalf("layer %s not found", id)
	}
	return l.Opacity
}

// TestLinearUndoRedo walks a two-edit history backward and forward again.
func TestLinearUndoRedo(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)

	if _, err := e.Execute(NewUpdateLayer("opacity 50", "L1", LayerPatch{Opacity: Float(50)})); err != nil {
		t.Fatalf("execute 1: %v", err)
	}
	if _, err := e.Execute(NewUpdateLayer("opacity 25", "L1", LayerPatch{Opacity: Float(25)})); err != nil {
		t.Fatalf("execute 2: %v", err)
	}
	if got := mustLayerOpacity(t, get(), "L1"); got != 25 {
		t.Fatalf("opacity after 2 executes = %v, want 25", got)
	}

	if err := e.Undo(); err != nil {
		t.Fatalf("undo 1: %v", err)
	}
	if got := mustLayerOpacity(t, get(), "L1"); got != 50 {
		t.Fatalf("opacity after undo 1 = %v, want 50", got)
	}

	if err := e.Undo(); err != nil {
		t.Fatalf("undo 2: %v", err)
	}
	if got := mustLayerOpacity(t, get(), "L1"); got != 100 {
		t.Fatalf("opacity after undo 2 = %v, want 100", got)
	}

	if err := e.Redo(); err != nil {
		t.Fatalf("redo 1: %v", err)
	}
	if got := mustLayerOpacity(t, get(), "L1"); got != 50 {
		t.Fatalf("opacity after redo 1 = %v, want 50", got)
	}

	if err := e.Redo(); err != nil {
		t.Fatalf("redo 2: %v", err)
	}
	if got := mustLayerOpacity(t, get(), "L1"); got != 25 {
		t.Fatalf("opacity after redo 2 = %v, want 25", got)
	}

	// Further redo is a no-op: HEAD has no children.
	before := get()
	if err := e.Redo(); err != nil {
		t.Fatalf("redo past tip: %v", err)
	}
	if !statesEqual(before, get()) {
		t.Fatal("redo past the tip should be a no-op")
	}
}

// TestCoalescingInTransaction checks that a zoom drag inside a transaction
// collapses to a single commit.
func TestCoalescingInTransaction(t *testing.T) {
	base := InitialState(100, 100)
	e, get := newTestEngine(base)
	rootCommits := len(e.GetGraph().Commits)

	e.BeginTransaction("Zoom")
	e.Push(NewSetViewport("zoom", ViewportPatch{Zoom: Float(110)}))
	e.Push(NewSetViewport("zoom", ViewportPatch{Zoom: Float(120)}))
	e.Push(NewSetViewport("zoom", ViewportPatch{Zoom: Float(125)}))
	id, err := e.EndTransaction(true)
	if err != nil {
		t.Fatalf("end transaction: %v", err)
	}
	if id == "" {
		t.Fatal("expected a commit id")
	}

	if got := len(e.GetGraph().Commits); got != rootCommits+1 {
		t.Fatalf("graph gained %d commits, want exactly 1", got-rootCommits)
	}
	if get().Viewport.Zoom != 125 {
		t.Fatalf("zoom = %v, want 125", get().Viewport.Zoom)
	}

	if err := e.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if get().Viewport.Zoom != 100 {
		t.Fatalf("zoom after undo = %v, want 100 (the pre-transaction value)", get().Viewport.Zoom)
	}
}

func TestEmptyTransactionProducesNoCommit(t *testing.T) {
	base := InitialState(100, 100)
	e, _ := newTestEngine(base)
	before := len(e.GetGraph().Commits)
	e.BeginTransaction("nothing")
	if _, err := e.EndTransaction(true); err != nil {
		t.Fatalf("end empty transaction: %v", err)
	}
	if got := len(e.GetGraph().Commits); got != before {
		t.Fatalf("commits = %d, want %d (no commit from an empty transaction)", got, before)
	}
}

func TestNestedTransactionFoldsIntoParentFrame(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)
	before := len(e.GetGraph().Commits)

	e.BeginTransaction("outer")
	e.Push(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(80)}))
	e.BeginTransaction("inner")
	e.Push(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(60)}))
	if _, err := e.EndTransaction(true); err != nil {
		t.Fatalf("end inner: %v", err)
	}
	// The inner frame's commands fold into the outer frame; no commit yet.
	if got := len(e.GetGraph().Commits); got != before {
		t.Fatalf("commits after inner end = %d, want %d (folds into parent, not the graph)", got, before)
	}
	if _, err := e.EndTransaction(true); err != nil {
		t.Fatalf("end outer: %v", err)
	}
	if got := len(e.GetGraph().Commits); got != before+1 {
		t.Fatalf("commits after outer end = %d, want %d", got, before+1)
	}
}

// TestBranchAndCheckout round-trips between two branches that diverge by
// one commit.
func TestBranchAndCheckout(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)

	if _, err := e.Execute(NewAddLayer("add L2", newTestImageLayer("L2", 100), Top())); err != nil {
		t.Fatalf("add L2: %v", err)
	}
	head := e.Head().At
	if err := e.CreateBranch("feature", head); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := e.Execute(NewUpdateLayer("hide L1", "L1", LayerPatch{Visible: Bool(false)})); err != nil {
		t.Fatalf("hide L1 on main: %v", err)
	}
	l1, _ := get().Layers.Get("L1")
	if l1.Visible {
		t.Fatal("L1 should be hidden on main after the update")
	}

	if err := e.Checkout(CheckoutTarget{Branch: "feature"}); err != nil {
		t.Fatalf("checkout feature: %v", err)
	}
	l1, _ = get().Layers.Get("L1")
	if !l1.Visible {
		t.Fatal("L1 should be visible on feature (branched before the hide)")
	}
	if _, ok := get().Layers.Get("L2"); !ok {
		t.Fatal("L2 should exist on feature")
	}

	if err := e.Checkout(CheckoutTarget{Branch: "main"}); err != nil {
		t.Fatalf("checkout main: %v", err)
	}
	l1, _ = get().Layers.Get("L1")
	if l1.Visible {
		t.Fatal("L1 should be hidden again after returning to main")
	}
}

// TestCheckoutCommutativity: checkout(a); checkout(b) yields the same state
// as checkout(b) from root.
func TestCheckoutCommutativity(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e1, get1 := newTestEngine(base)
	e2, get2 := newTestEngine(base)

	// Each engine mints its own commit ids, so a and b are kept per engine.
	var a, b [2]CommitID
	for i, eng := range []*HistoryEngine{e1, e2} {
		eng.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(60)}))
		a[i] = eng.Head().At
		eng.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(30)}))
		b[i] = eng.Head().At
	}

	if err := e1.Checkout(CheckoutTarget{CommitID: a[0]}); err != nil {
		t.Fatalf("e1 checkout a: %v", err)
	}
	if err := e1.Checkout(CheckoutTarget{CommitID: b[0]}); err != nil {
		t.Fatalf("e1 checkout b: %v", err)
	}
	if err := e2.Checkout(CheckoutTarget{CommitID: e2.graph.RootID}); err != nil {
		t.Fatalf("e2 checkout root: %v", err)
	}
	if err := e2.Checkout(CheckoutTarget{CommitID: b[1]}); err != nil {
		t.Fatalf("e2 checkout b direct: %v", err)
	}
	if !statesEqual(get1(), get2()) {
		t.Fatalf("checkout(a);checkout(b) != checkout(b) from root:\n  got:  %+v\n  want: %+v", get1(), get2())
	}
}

func TestAmbiguousRedoAtBranchPoint(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)

	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(80)}))
	branchPoint := e.Head().At
	e.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(60)}))
	if err := e.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if e.Head().At != branchPoint {
		t.Fatalf("head = %v, want %v", e.Head().At, branchPoint)
	}
	// Detour onto a second child of branchPoint.
	if err := e.Checkout(CheckoutTarget{CommitID: branchPoint}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	e.Execute(NewUpdateLayer("c", "L1", LayerPatch{Opacity: Float(40)}))
	if err := e.Checkout(CheckoutTarget{CommitID: branchPoint}); err != nil {
		t.Fatalf("checkout back: %v", err)
	}

	err := e.Redo()
	if err == nil {
		t.Fatal("expected AmbiguousRedo")
	}
	if _, ok := err.(*AmbiguousRedo); !ok {
		t.Fatalf("expected *AmbiguousRedo, got %T: %v", err, err)
	}
}

func TestNonUndoableCommandCreatesNoCommit(t *testing.T) {
	base := InitialState(100, 100)
	e, get := newTestEngine(base)
	before := len(e.GetGraph().Commits)
	if _, err := e.Execute(NewSetActiveTool(ActiveTool{Tool: "brush"})); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := len(e.GetGraph().Commits); got != before {
		t.Fatalf("commits = %d, want %d (non-undoable commands create no commit)", got, before)
	}
	if get().ActiveTool.Tool != "brush" {
		t.Fatal("state should still be mutated by a non-undoable command")
	}
}

func TestDetachedHeadNoBranchRefusesCommit(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)
	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(80)}))
	root := e.graph.RootID
	if err := e.Checkout(CheckoutTarget{CommitID: root}); err != nil {
		t.Fatalf("checkout root: %v", err)
	}
	e.SetAutoCreateBranchOnDetached(false)
	_, err := e.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(20)}))
	if err == nil {
		t.Fatal("expected DetachedHeadNoBranch")
	}
	if _, ok := err.(*DetachedHeadNoBranch); !ok {
		t.Fatalf("expected *DetachedHeadNoBranch, got %T: %v", err, err)
	}
}

func TestDetachedHeadAutoCreatesBranch(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)
	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(80)}))
	root := e.graph.RootID
	if err := e.Checkout(CheckoutTarget{CommitID: root}); err != nil {
		t.Fatalf("checkout root: %v", err)
	}
	if _, err := e.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(20)})); err != nil {
		t.Fatalf("execute on detached head: %v", err)
	}
	if e.Head().Type != HeadBranch {
		t.Fatalf("head type = %v, want attached (auto-branch)", e.Head().Type)
	}
}

func TestThumbnailProviderBestEffort(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)

	e.SetThumbnailProvider(func() ([]byte, error) { return []byte{1, 2, 3}, nil })
	id, err := e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(80)}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := e.GetGraph().Commits[id].Thumbnail; len(got) != 3 {
		t.Fatalf("thumbnail = %v, want the provider's bytes", got)
	}

	var reported error
	e.SetOnError(func(err error) { reported = err })
	e.SetThumbnailProvider(func() ([]byte, error) { return nil, errBoom })
	id, err = e.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(60)}))
	if err != nil {
		t.Fatalf("execute with failing provider: %v", err)
	}
	if e.GetGraph().Commits[id].Thumbnail != nil {
		t.Fatal("a failing provider must yield a nil thumbnail, not abort the commit")
	}
	if reported == nil {
		t.Fatal("provider errors should be reported via onError")
	}
}

var errBoom = errors.New("thumbnail capture failed")

func TestBranchOperationsRefuseProtectedAndCurrent(t *testing.T) {
	base := InitialState(100, 100)
	e, _ := newTestEngine(base)
	if err := e.DeleteBranch("main"); err == nil {
		t.Fatal("expected deleting protected main branch to fail")
	}
	if err := e.RenameBranch("main", "trunk"); err == nil {
		t.Fatal("expected renaming protected main branch to fail")
	}
	if err := e.CreateBranch("feature", ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if err := e.CreateBranch("feature", ""); err == nil {
		t.Fatal("expected duplicate branch name to fail")
	}
}
