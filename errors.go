package editor

import "fmt"

// InvariantError reports that a mutation produced a state that failed
// [CanonicalState] invariant checks. The engine never commits a state that
// fails these checks; the caller's in-flight command is rejected and the
// engine stays at its previous HEAD.
type InvariantError struct {
	Rule string // the violated invariant, e.g. "opacity range" or "order/byId alignment"
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("editor: invariant violated: %s", e.Rule)
}

// DimensionLimit reports that a document operation would exceed the GPU
// texture-size ceiling (see [Limits]).
type DimensionLimit struct {
	Width, Height int
	MaxSide       int
	MaxArea       int
}

func (e *DimensionLimit) Error() string {
	return fmt.Sprintf("editor: dimensions %dx%d exceed limit (max side %d, max area %d)",
		e.Width, e.Height, e.MaxSide, e.MaxArea)
}

// DetachedHeadNoBranch reports that a commit was attempted while HEAD was
// detached and autoCreateBranchOnDetached is disabled.
type DetachedHeadNoBranch struct {
	At CommitID
}

func (e *DetachedHeadNoBranch) Error() string {
	return fmt.Sprintf("editor: cannot commit: HEAD detached at %s and auto-branching is disabled", e.At)
}

// AmbiguousRedo reports that redo was attempted from a commit with more than
// one child; the caller must choose a branch explicitly via Checkout.
type AmbiguousRedo struct {
	At       CommitID
	Children []CommitID
}

func (e *AmbiguousRedo) Error() string {
	return fmt.Sprintf("editor: redo from %s is ambiguous: %d children", e.At, len(e.Children))
}

// NonLinearRange reports that a requested squash range is not reachable via
// first-parent links alone.
type NonLinearRange struct {
	From, To CommitID
}

func (e *NonLinearRange) Error() string {
	return fmt.Sprintf("editor: %s is not reachable from %s via first-parent links", e.To, e.From)
}

// Conflict describes a single unresolved reference found by the Conflict
// Resolver while applying a foreign commit.
type Conflict struct {
	Path   string // e.g. "layer:abc123"
	Reason string
}

// ConflictReport is returned by CherryPick/Merge when the Resolver cannot
// reconcile every referenced entity; state is left unchanged.
type ConflictReport struct {
	Conflicts []Conflict
}

func (e *ConflictReport) Error() string {
	return fmt.Sprintf("editor: %d unresolved conflict(s)", len(e.Conflicts))
}

// PersistenceError wraps a storage-adapter failure. It is never returned to
// a mutation caller; IO paths report it via the engine's onError sink only.
type PersistenceError struct {
	Op  string // "save", "load", "autosave"
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("editor: persistence %s(%s): %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SerializationError reports an unrecognized command tag encountered during
// import. The offending commit is skipped; history loading continues.
type SerializationError struct {
	CommitID CommitID
	Tag      string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("editor: serialization: commit %s has unknown command tag %q: %v", e.CommitID, e.Tag, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
