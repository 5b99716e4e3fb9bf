// Package editor implements the Editor Core of Phototis: the canonical
// document model, the Command algebra that mutates it, and the DAG-based
// History Engine that records, branches, merges, cherry-picks, reverts,
// squashes, garbage-collects, and persists those mutations.
//
// The GPU renderer, UI widgets, worker pools, image decoding, and timeline
// transport all live outside this package and consume it read-only through
// [HistoryEngine] and the plain values it manages ([CanonicalState],
// [Document], [Layer]). This package never imports a rendering library;
// it treats the rendered image as an opaque [ImageHandle] and the rendered
// preview as an opaque byte string produced by a caller-supplied
// [ThumbnailProvider].
//
// # Quick start
//
// Construct an engine around a state cell and drive it with typed commands:
//
//	state := editor.InitialState(1920, 1080)
//	engine := editor.NewHistoryEngine(
//		func() editor.CanonicalState { return state },
//		func(s editor.CanonicalState) { state = s },
//		editor.DefaultOptions(),
//	)
//	engine.Execute(editor.NewUpdateLayer("Set opacity", layerID, editor.LayerPatch{Opacity: editor.Float(50)}))
//	engine.Undo()
//
// # Key ideas
//
// The canonical state is a single immutable value. All mutation is routed
// through [Command] values; the engine is the only thing that ever calls
// setState. Commits form a DAG keyed by id ([HistoryEngine.GetGraph]), not a
// tree of pointers, so import/export never needs to fix up parent pointers:
// the children index is always rebuilt as the inverse of parentIds.
package editor
