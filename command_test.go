package editor

import "testing"

// assertRoundTrip checks the inverse law: C.invert(S, C.apply(S)) applied
// to C.apply(S) must equal S structurally.
func assertRoundTrip(t *testing.T, label string, s CanonicalState, cmd Command) {
	t.Helper()
	next, err := cmd.Apply(s)
	if err != nil {
		t.Fatalf("%s: apply: %v", label, err)
	}
	if err := assertInvariants(next); err != nil {
		t.Fatalf("%s: apply produced invalid state: %v", label, err)
	}
	inv, err := cmd.Invert(s, next)
	if err != nil {
		t.Fatalf("%s: invert: %v", label, err)
	}
	restored, err := inv.Apply(next)
	if err != nil {
		t.Fatalf("%s: invert.apply: %v", label, err)
	}
	if !statesEqual(s, restored) {
		t.Fatalf("%s: round trip mismatch\n  got:  %+v\n  want: %+v", label, restored, s)
	}
}

// statesEqual is a structural comparison sufficient for these tests: layer
// sets, order, selection, and viewport.
func statesEqual(a, b CanonicalState) bool {
	if len(a.Layers.ByID) != len(b.Layers.ByID) {
		return false
	}
	if !equalIDs(a.Layers.Order, b.Layers.Order) {
		return false
	}
	for id, la := range a.Layers.ByID {
		lb, ok := b.Layers.ByID[id]
		if !ok {
			return false
		}
		if la.Opacity != lb.Opacity || la.Visible != lb.Visible || la.Name != lb.Name {
			return false
		}
	}
	if len(a.Selection) != len(b.Selection) {
		return false
	}
	return a.Viewport == b.Viewport
}

func TestAddRemoveLayerRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	assertRoundTrip(t, "AddLayer", s, NewAddLayer("add", newTestImageLayer("L1", 80), Top()))
}

func TestRemoveLayerRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 80), Top())
	assertRoundTrip(t, "RemoveLayer", s, NewRemoveLayer("remove", "L1"))
}

func TestUpdateLayerRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 80), Top())
	assertRoundTrip(t, "UpdateLayer", s, NewUpdateLayer("opacity", "L1", LayerPatch{Opacity: Float(30)}))
}

func TestReorderLayersRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 100), Top())
	s, _ = AddLayer(s, newTestImageLayer("L2", 100), Top())
	assertRoundTrip(t, "ReorderLayers", s, NewReorderLayers("reorder", 0, 1))
}

func TestSetViewportRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	assertRoundTrip(t, "SetViewport", s, NewSetViewport("zoom", ViewportPatch{Zoom: Float(150)}))
}

func TestDocumentRotateRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 100), Top())
	assertRoundTrip(t, "DocumentRotate", s, NewDocumentRotate(45, DefaultLimits()))
}

func TestDocumentFlipRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 100), Top())
	assertRoundTrip(t, "DocumentFlip", s, NewDocumentFlip(DocumentFlipParams{H: true, V: true}, DefaultLimits()))
}

// TestCompositeRoundTrip checks the inverse law over a composite's
// replay-and-invert strategy.
func TestCompositeRoundTrip(t *testing.T) {
	s := InitialState(100, 100)
	s, _ = AddLayer(s, newTestImageLayer("L1", 100), Top())
	composite := NewComposite("batch", []Command{
		NewUpdateLayer("opacity", "L1", LayerPatch{Opacity: Float(40)}),
		NewAddLayer("add", newTestImageLayer("L2", 60), Top()),
		NewSetSelection(NewSelection("L2")),
	})
	assertRoundTrip(t, "Composite", s, composite)
}

func TestCompositeNeverCoalesces(t *testing.T) {
	c := NewComposite("x", nil)
	if _, ok := interface{}(c).(Coalescable); ok {
		t.Fatal("CompositeCommand must not implement Coalescable")
	}
}

func TestAdjustmentParametersCoalesce(t *testing.T) {
	id := LayerID("adj1")
	a := NewUpdateAdjustmentParameters("drag", id, ParamMap{"amount": {Value: 10}})
	b := NewUpdateAdjustmentParameters("drag", id, ParamMap{"amount": {Value: 20}})
	if !b.CanCoalesceWith(a) {
		t.Fatal("expected same mergeKey to be coalescable")
	}
	merged := b.CoalesceWith(a).(*UpdateAdjustmentParametersCommand)
	if merged.Params["amount"].Value != 20 {
		t.Errorf("coalesced value = %v, want 20 (last-write-wins)", merged.Params["amount"].Value)
	}
}

func TestViewportCoalescingKeepsUntouchedFields(t *testing.T) {
	a := NewSetViewport("pan", ViewportPatch{PanX: Float(5)})
	b := NewSetViewport("zoom", ViewportPatch{Zoom: Float(150)})
	merged := b.CoalesceWith(a).(*SetViewportCommand)
	if merged.Patch.PanX == nil || *merged.Patch.PanX != 5 {
		t.Error("coalesced patch should retain a's PanX")
	}
	if merged.Patch.Zoom == nil || *merged.Patch.Zoom != 150 {
		t.Error("coalesced patch should take b's Zoom")
	}
}

func TestSetActiveToolNonUndoableByDefault(t *testing.T) {
	cmd := NewSetActiveTool(ActiveTool{Tool: "brush"})
	if !cmd.CommandMeta().NonUndoable {
		t.Fatal("SetActiveTool should default to non-undoable")
	}
}

func TestEstimateSizeFallback(t *testing.T) {
	cmd := NewSetSelection(NewSelection("L1"))
	if cmd.EstimateSize() <= 128 {
		t.Errorf("estimate size should include the 128 base + serialized meta, got %d", cmd.EstimateSize())
	}
}
