package editor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// CommitID uniquely identifies a commit within a HistoryGraph.
type CommitID string

// HeadType discriminates HEAD's two states.
type HeadType string

const (
	HeadBranch   HeadType = "branch"
	HeadDetached HeadType = "detached"
)

// Head is the engine's current working position: either attached to a named
// branch (commits advance its tip) or detached at a bare commit id.
type Head struct {
	Type HeadType
	Name string // branch name; empty when Type == HeadDetached
	At   CommitID
}

// Commit is an immutable unit of change. recordCommit always stores exactly
// one entry in Commands — a CompositeCommand when a transaction accumulated
// more than one push, the raw command otherwise — so every algorithm below
// that walks the graph inverts or replays a single Command per commit,
// keeping the delta walk a single Apply/Invert per hop.
type Commit struct {
	ID          CommitID
	ParentIDs   []CommitID
	Label       string
	TimestampMs int64
	Thumbnail   []byte
	Commands    []Command
	ByteSize    int
}

// Protected holds the commit ids and branch names GC and deleteBranch must
// never remove.
type Protected struct {
	Commits  map[CommitID]bool
	Branches map[string]bool
}

// HistoryGraph is the commit DAG: commits keyed by id, named branch tips,
// the inverse parentIds index, HEAD, and the protected set.
type HistoryGraph struct {
	Commits   map[CommitID]*Commit
	Branches  map[string]CommitID
	Children  map[CommitID][]CommitID
	Head      Head
	Protected Protected
	RootID    CommitID
}

// GetStateFunc reads the host's current canonical state.
type GetStateFunc func() CanonicalState

// SetStateFunc installs a new canonical state — the engine's only mutation
// path into the document model.
type SetStateFunc func(CanonicalState)

// ThumbnailProvider is called at commit time with a short time budget; a nil
// return or an error is tolerated.
type ThumbnailProvider func() ([]byte, error)

// ErrorSink receives non-fatal IO errors (persistence, thumbnail capture)
// that mutation APIs must not raise directly.
type ErrorSink func(error)

// HistoryEngine is the DAG History Engine: it owns the commit graph, the
// snapshot cache, and the active transaction frame, and is the only writer
// of canonical state.
type HistoryEngine struct {
	getState GetStateFunc
	setState SetStateFunc
	options  HistorySettings

	graph HistoryGraph

	snapshots     map[CommitID]CanonicalState
	snapshotOrder []CommitID // insertion order, oldest first, for eviction
	snapshotBytes int64

	tx          []*txFrame // transaction stack; see transaction.go
	checkpoints map[string]CommitID

	storage           StorageAdapter
	thumbnailProvider ThumbnailProvider
	onError           ErrorSink
	queue             *opQueue

	logger *logrus.Entry
}

// NewHistoryEngine constructs an engine rooted at a synthetic commit
// snapshotting getState()'s current value, with HEAD attached to "main".
func NewHistoryEngine(getState GetStateFunc, setState SetStateFunc, options HistorySettings) *HistoryEngine {
	root := &Commit{
		ID:          CommitID(newID()),
		ParentIDs:   nil,
		Label:       "Initial state",
		TimestampMs: nowMs(),
	}
	e := &HistoryEngine{
		getState: getState,
		setState: setState,
		options:  options,
		graph: HistoryGraph{
			Commits:  map[CommitID]*Commit{root.ID: root},
			Branches: map[string]CommitID{"main": root.ID},
			Children: map[CommitID][]CommitID{},
			Head:     Head{Type: HeadBranch, Name: "main", At: root.ID},
			Protected: Protected{
				Commits:  map[CommitID]bool{root.ID: true},
				Branches: map[string]bool{"main": true},
			},
			RootID: root.ID,
		},
		snapshots: map[CommitID]CanonicalState{},
		storage:   NewMemoryStorage(),
		queue:     newOpQueue(),
		logger:    logrus.WithField("component", "editor"),
	}
	e.cacheSnapshot(root.ID, getState())
	return e
}

func nowMs() int64 { return time.Now().UnixMilli() }

// SetOnError installs the sink non-fatal IO errors are reported to.
func (e *HistoryEngine) SetOnError(sink ErrorSink) { e.onError = sink }

// SetThumbnailProvider installs (or clears, with nil) the commit-time
// thumbnail callback.
func (e *HistoryEngine) SetThumbnailProvider(cb ThumbnailProvider) { e.thumbnailProvider = cb }

// SetRetention replaces the engine's retention settings.
func (e *HistoryEngine) SetRetention(settings RetentionSettings) { e.options.Retention = settings }

// SetAutoCreateBranchOnDetached toggles auto-branching on commit from a
// detached HEAD.
func (e *HistoryEngine) SetAutoCreateBranchOnDetached(v bool) {
	e.options.AutoCreateBranchOnDetached = v
}

// SetStorage replaces the persistence backend.
func (e *HistoryEngine) SetStorage(adapter StorageAdapter) { e.storage = adapter }

// Head returns the engine's current HEAD.
func (e *HistoryEngine) Head() Head { return e.graph.Head }

// GetGraph returns the live graph for read-only inspection by callers
// (renderer history panels, tests). Callers must not mutate it.
func (e *HistoryEngine) GetGraph() HistoryGraph { return e.graph }

func (e *HistoryEngine) reportError(err error) {
	if err == nil {
		return
	}
	if e.onError != nil {
		e.onError(err)
		return
	}
	e.logger.WithError(err).Warn("unreported error")
}

// recordCommit is the linear edit loop: it applies cmds in order to the
// current state, installs the result, and — unless the combined command is
// non-undoable — records a new commit parented at HEAD and advances HEAD.
// Non-undoable commands mutate state but never produce a commit.
func (e *HistoryEngine) recordCommit(label string, cmds []Command) (CommitID, error) {
	if len(cmds) == 0 {
		return "", nil
	}
	if e.graph.Head.Type == HeadDetached && !e.options.AutoCreateBranchOnDetached {
		return "", &DetachedHeadNoBranch{At: e.graph.Head.At}
	}

	var combined Command
	if len(cmds) == 1 {
		combined = cmds[0]
	} else {
		combined = NewComposite(label, cmds)
	}

	prev := e.getState()
	next, err := combined.Apply(prev)
	if err != nil {
		return "", err
	}
	e.setState(next)

	if combined.CommandMeta().NonUndoable {
		return "", nil
	}

	parent := e.graph.Head.At
	id := CommitID(newID())
	commit := &Commit{
		ID:          id,
		ParentIDs:   []CommitID{parent},
		Label:       label,
		TimestampMs: nowMs(),
		Commands:    []Command{combined},
		ByteSize:    combined.EstimateSize(),
	}
	commit.Thumbnail = e.captureThumbnail()

	e.graph.Commits[id] = commit
	e.graph.Children[parent] = append(e.graph.Children[parent], id)

	if e.graph.Head.Type == HeadBranch {
		e.graph.Branches[e.graph.Head.Name] = id
		e.graph.Head.At = id
	} else {
		name := e.freshBranchName(id)
		e.graph.Branches[name] = id
		e.graph.Head = Head{Type: HeadBranch, Name: name, At: id}
	}

	e.cacheSnapshot(id, next)
	return id, nil
}

// thumbnailBudget bounds how long a commit waits for the thumbnail provider
// before recording the commit without one.
const thumbnailBudget = 100 * time.Millisecond

// captureThumbnail asks the provider for a preview, giving up after the
// budget elapses. Errors and timeouts both yield nil; a slow provider's late
// result is discarded.
func (e *HistoryEngine) captureThumbnail() []byte {
	if e.thumbnailProvider == nil {
		return nil
	}
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	provider := e.thumbnailProvider
	go func() {
		data, err := provider()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			e.reportError(fmt.Errorf("thumbnail capture: %w", r.err))
			return nil
		}
		return r.data
	case <-time.After(thumbnailBudget):
		return nil
	}
}

// freshBranchName mints a unique auto-branch name for a commit made from a
// detached HEAD.
func (e *HistoryEngine) freshBranchName(id CommitID) string {
	base := fmt.Sprintf("detached-%s", string(id)[:8])
	name := base
	for i := 1; ; i++ {
		if _, exists := e.graph.Branches[name]; !exists {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// cacheSnapshot stores state under id, evicting the oldest cached snapshot
// when the running total exceeds the engine's byte budget.
func (e *HistoryEngine) cacheSnapshot(id CommitID, state CanonicalState) {
	if _, exists := e.snapshots[id]; exists {
		return
	}
	e.snapshots[id] = state.Clone()
	e.snapshotOrder = append(e.snapshotOrder, id)
	e.snapshotBytes += estimateStateBytes(state)
	for e.snapshotBytes > e.options.MaxBytes && len(e.snapshotOrder) > 1 {
		oldest := e.snapshotOrder[0]
		if oldest == e.graph.RootID {
			// The root snapshot is the replay base for every stateAt miss;
			// rotate it to the back rather than evicting it.
			e.snapshotOrder = append(e.snapshotOrder[1:], oldest)
			continue
		}
		e.dropSnapshot(oldest)
	}
}

// dropSnapshot removes id from the snapshot cache, keeping the byte and
// order accounting consistent.
func (e *HistoryEngine) dropSnapshot(id CommitID) {
	s, ok := e.snapshots[id]
	if !ok {
		return
	}
	delete(e.snapshots, id)
	e.snapshotBytes -= estimateStateBytes(s)
	for i, existing := range e.snapshotOrder {
		if existing == id {
			e.snapshotOrder = append(e.snapshotOrder[:i], e.snapshotOrder[i+1:]...)
			break
		}
	}
}

func estimateStateBytes(s CanonicalState) int64 {
	return int64(128 + len(s.Layers.ByID)*256)
}

// stateAt returns the canonical state at id, recomputing by first-parent
// replay from the nearest cached ancestor when not already cached.
func (e *HistoryEngine) stateAt(id CommitID) (CanonicalState, error) {
	if s, ok := e.snapshots[id]; ok {
		return s.Clone(), nil
	}
	commit, ok := e.graph.Commits[id]
	if !ok {
		return CanonicalState{}, fmt.Errorf("editor: unknown commit %s", id)
	}
	if len(commit.ParentIDs) == 0 {
		return CanonicalState{}, fmt.Errorf("editor: root commit %s has no cached snapshot", id)
	}
	parentState, err := e.stateAt(commit.ParentIDs[0])
	if err != nil {
		return CanonicalState{}, err
	}
	cur := parentState
	for _, cmd := range commit.Commands {
		cur, err = cmd.Apply(cur)
		if err != nil {
			return CanonicalState{}, err
		}
	}
	e.cacheSnapshot(id, cur)
	return cur, nil
}

// Undo moves HEAD to its parent, applying the inverse of the current
// commit's command to the live state. A no-op at the root. When the inverse
// cannot be computed or applied, Undo falls back to the parent's replayed
// snapshot instead of failing, reporting the original error through the
// onError sink.
func (e *HistoryEngine) Undo() error {
	at := e.graph.Head.At
	commit, ok := e.graph.Commits[at]
	if !ok {
		return fmt.Errorf("editor: HEAD commit %s missing", at)
	}
	if len(commit.ParentIDs) == 0 {
		return nil
	}
	parent := commit.ParentIDs[0]
	prev, err := e.stateAt(parent)
	if err != nil {
		return err
	}
	next := e.getState()
	inverse, err := commit.Commands[0].Invert(prev, next)
	if err == nil {
		var restored CanonicalState
		restored, err = inverse.Apply(next)
		if err == nil {
			e.setState(restored)
			e.moveHeadTo(parent)
			return nil
		}
	}
	e.reportError(fmt.Errorf("undo %s, falling back to snapshot: %w", at, err))
	e.setState(prev)
	e.moveHeadTo(parent)
	return nil
}

// Redo re-applies HEAD's single child commit forward. Returns
// *AmbiguousRedo when HEAD has more than one child.
func (e *HistoryEngine) Redo() error {
	at := e.graph.Head.At
	children := e.graph.Children[at]
	if len(children) == 0 {
		return nil
	}
	if len(children) > 1 {
		return &AmbiguousRedo{At: at, Children: append([]CommitID(nil), children...)}
	}
	child := children[0]
	commit := e.graph.Commits[child]
	cur := e.getState()
	next, err := commit.Commands[0].Apply(cur)
	if err != nil {
		return err
	}
	e.setState(next)
	e.cacheSnapshot(child, next)
	e.moveHeadTo(child)
	return nil
}

// moveHeadTo updates HEAD.At, advancing the attached branch's tip too
// (used by Undo/Redo, which never change HEAD's attachment, only its
// position along the current branch).
func (e *HistoryEngine) moveHeadTo(id CommitID) {
	e.graph.Head.At = id
	if e.graph.Head.Type == HeadBranch {
		e.graph.Branches[e.graph.Head.Name] = id
	}
}

// lca returns the lowest common ancestor of a and b via a two-pointer
// first-parent walk.
func (e *HistoryEngine) lca(a, b CommitID) (CommitID, error) {
	ancestorsOfA := map[CommitID]bool{}
	cur := a
	for {
		ancestorsOfA[cur] = true
		commit, ok := e.graph.Commits[cur]
		if !ok {
			return "", fmt.Errorf("editor: unknown commit %s", cur)
		}
		if len(commit.ParentIDs) == 0 {
			break
		}
		cur = commit.ParentIDs[0]
	}
	cur = b
	for {
		if ancestorsOfA[cur] {
			return cur, nil
		}
		commit, ok := e.graph.Commits[cur]
		if !ok {
			return "", fmt.Errorf("editor: unknown commit %s", cur)
		}
		if len(commit.ParentIDs) == 0 {
			return "", fmt.Errorf("editor: no common ancestor between %s and %s", a, b)
		}
		cur = commit.ParentIDs[0]
	}
}

// firstParentChainTo walks up from id (exclusive of stop) to stop via
// parentIds[0], returning the chain leaf-first (id, id's parent, ...).
func (e *HistoryEngine) firstParentChainTo(id, stop CommitID) ([]CommitID, error) {
	var chain []CommitID
	cur := id
	for cur != stop {
		chain = append(chain, cur)
		commit, ok := e.graph.Commits[cur]
		if !ok {
			return nil, fmt.Errorf("editor: unknown commit %s", cur)
		}
		if len(commit.ParentIDs) == 0 {
			return nil, fmt.Errorf("editor: %s is not reachable from %s via first-parent links", stop, id)
		}
		cur = commit.ParentIDs[0]
	}
	return chain, nil
}

// CheckoutTarget selects either a branch or a bare commit id for Checkout.
type CheckoutTarget struct {
	Branch   string
	CommitID CommitID
}

// Checkout computes the minimal undo/redo delta between HEAD and target via
// their common ancestor, applies it, and updates HEAD. Like every long
// operation it runs through the engine's FIFO queue, so a concurrent caller
// waits for the in-flight operation to finish rather than interleaving.
func (e *HistoryEngine) Checkout(target CheckoutTarget) error {
	return e.queue.Do(context.Background(), func() error {
		return e.checkout(target)
	})
}

func (e *HistoryEngine) checkout(target CheckoutTarget) error {
	var to CommitID
	attached := target.Branch != ""
	if attached {
		tip, ok := e.graph.Branches[target.Branch]
		if !ok {
			return fmt.Errorf("editor: unknown branch %q", target.Branch)
		}
		to = tip
	} else {
		if _, ok := e.graph.Commits[target.CommitID]; !ok {
			return fmt.Errorf("editor: unknown commit %s", target.CommitID)
		}
		to = target.CommitID
	}

	from := e.graph.Head.At
	if from != to {
		lca, err := e.lca(from, to)
		if err != nil {
			return err
		}
		undoChain, err := e.firstParentChainTo(from, lca)
		if err != nil {
			return err
		}
		redoChainLeafFirst, err := e.firstParentChainTo(to, lca)
		if err != nil {
			return err
		}

		state := e.getState()
		for _, id := range undoChain {
			commit := e.graph.Commits[id]
			prev, err := e.stateAt(commit.ParentIDs[0])
			if err != nil {
				return err
			}
			inverse, err := commit.Commands[0].Invert(prev, state)
			if err != nil {
				return err
			}
			applied, err := inverse.Apply(state)
			if err != nil {
				return err
			}
			state = applied
		}
		for i := len(redoChainLeafFirst) - 1; i >= 0; i-- {
			commit := e.graph.Commits[redoChainLeafFirst[i]]
			applied, err := commit.Commands[0].Apply(state)
			if err != nil {
				return err
			}
			state = applied
			e.cacheSnapshot(redoChainLeafFirst[i], state)
		}
		e.setState(state)
	}

	if attached {
		e.graph.Head = Head{Type: HeadBranch, Name: target.Branch, At: to}
	} else {
		e.graph.Head = Head{Type: HeadDetached, At: to}
	}
	return nil
}
