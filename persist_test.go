package editor

import "testing"

// TestExportImportRoundTrip checks that import(export(G)) yields
// the same state at HEAD and the same branch tips.
func TestExportImportRoundTrip(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)

	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(60)}))
	branchPoint := e.Head().At
	e.CreateBranch("feature", branchPoint)
	e.Execute(NewUpdateLayer("b", "L1", LayerPatch{Opacity: Float(30)}))
	mainTip := e.Head().At

	exported, err := e.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := InitialState(1, 1) // deliberately different seed state
	e2, get2 := newTestEngine(dst)
	if err := e2.Import(exported); err != nil {
		t.Fatalf("import: %v", err)
	}

	if e2.Head().At != mainTip {
		t.Fatalf("imported HEAD = %v, want %v", e2.Head().At, mainTip)
	}
	if e2.GetGraph().Branches["feature"] != branchPoint {
		t.Fatalf("imported feature tip = %v, want %v", e2.GetGraph().Branches["feature"], branchPoint)
	}
	if e2.GetGraph().Branches["main"] != mainTip {
		t.Fatalf("imported main tip = %v, want %v", e2.GetGraph().Branches["main"], mainTip)
	}
	if !statesEqual(get(), get2()) {
		t.Fatalf("imported HEAD state mismatch\n  got:  %+v\n  want: %+v", get2(), get())
	}

	if err := e2.Checkout(CheckoutTarget{Branch: "feature"}); err != nil {
		t.Fatalf("checkout feature on imported graph: %v", err)
	}
	l, _ := get2().Layers.Get("L1")
	if l.Opacity != 60 {
		t.Errorf("feature opacity after import = %v, want 60", l.Opacity)
	}
}

func TestImportRebuildsChildrenIgnoringWirePayload(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)
	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(60)}))

	exported, err := e.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	// Corrupt the wire payload's children map; Import must not trust it.
	exported.Graph.Children = map[CommitID][]CommitID{"bogus": {"also-bogus"}}

	e2, _ := newTestEngine(InitialState(1, 1))
	if err := e2.Import(exported); err != nil {
		t.Fatalf("import: %v", err)
	}
	for parent, kids := range e2.GetGraph().Children {
		for _, kid := range kids {
			child, ok := e2.GetGraph().Commits[kid]
			if !ok {
				t.Fatalf("children[%v] references unknown commit %v", parent, kid)
			}
			found := false
			for _, p := range child.ParentIDs {
				if p == parent {
					found = true
				}
			}
			if !found {
				t.Fatalf("children[%v]=%v is not the inverse of %v's ParentIDs %v", parent, kid, kid, child.ParentIDs)
			}
		}
	}
}

func TestImportSkipsCommitWithUnrecognizedCommandTag(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, _ := newTestEngine(base)
	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(60)}))
	goodTip := e.Head().At

	exported, err := e.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	bad := exported.Graph.Commits[goodTip]
	bad.ID = "bad-commit"
	bad.ParentIDs = []CommitID{goodTip}
	bad.Commands = []SerializedCommand{{Type: CommandType("not-a-real-type")}}
	exported.Graph.Commits["bad-commit"] = bad

	var reported []error
	e2, _ := newTestEngine(InitialState(1, 1))
	e2.SetOnError(func(err error) { reported = append(reported, err) })
	if err := e2.Import(exported); err != nil {
		t.Fatalf("import should skip the bad commit, not fail outright: %v", err)
	}
	if len(reported) == 0 {
		t.Fatal("expected a reported *SerializationError for the unrecognized tag")
	}
	if _, ok := e2.GetGraph().Commits["bad-commit"]; ok {
		t.Fatal("the commit with only unrecognized commands must be skipped, not imported empty")
	}
}

func TestSaveAtLoadAtRoundTripThroughMemoryStorage(t *testing.T) {
	base := InitialState(100, 100)
	base, _ = AddLayer(base, newTestImageLayer("L1", 100), Top())
	e, get := newTestEngine(base)
	e.SetStorage(NewMemoryStorage())
	e.Execute(NewUpdateLayer("a", "L1", LayerPatch{Opacity: Float(60)}))

	if err := e.SaveAt("slot-1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	e2, get2 := newTestEngine(InitialState(1, 1))
	e2.SetStorage(e.storage)
	state, _, err := e2.LoadAt("slot-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !statesEqual(state, get()) {
		t.Fatal("loaded state should match the state at save time")
	}
	if !statesEqual(get2(), get()) {
		t.Fatal("LoadAt should apply the restored state via setState")
	}
}

func TestLoadAtUnknownKeyErrors(t *testing.T) {
	e, _ := newTestEngine(InitialState(1, 1))
	e.SetStorage(NewMemoryStorage())
	if _, _, err := e.LoadAt("nope"); err == nil {
		t.Fatal("expected an error loading an unknown key")
	}
}
