package editor

import (
	"context"
	"fmt"
)

// Commit records the current in-flight state as a new commit without going
// through a transaction. It is a convenience alias over recordCommit used
// when the caller has already mutated state directly via setState; its
// inverse restores the exact prior state
// regardless of what else happens to be live when Undo runs.
func (e *HistoryEngine) Commit(label string) (CommitID, error) {
	if label == "" {
		label = "Commit"
	}
	return e.recordCommit(label, []Command{&noopCommand{meta: Meta{Label: label, Scope: ScopeGlobal}}})
}

// noopCommand leaves state untouched on Apply; its inverse is a
// restoreCommand that snaps back to whatever "prev" the engine passes at
// invert time, independent of the state it is later applied against.
type noopCommand struct{ meta Meta }

func (c *noopCommand) CommandMeta() Meta                              { return c.meta }
func (c *noopCommand) Apply(s CanonicalState) (CanonicalState, error) { return s, nil }
func (c *noopCommand) Invert(prev, next CanonicalState) (Command, error) {
	return &restoreCommand{meta: Meta{Label: "undo " + c.meta.Label}, target: prev}, nil
}
func (c *noopCommand) EstimateSize() int { return fallbackSize(c.meta) }
func (c *noopCommand) Serialize() (SerializedCommand, error) {
	return SerializedCommand{Type: CmdComposite, Meta: serializeMeta(c.meta)}, nil
}

// restoreCommand unconditionally replaces state with a captured target,
// regardless of the state it is applied against.
type restoreCommand struct {
	meta   Meta
	target CanonicalState
}

func (c *restoreCommand) CommandMeta() Meta { return c.meta }
func (c *restoreCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return c.target.Clone(), nil
}
func (c *restoreCommand) Invert(prev, next CanonicalState) (Command, error) {
	return &restoreCommand{meta: Meta{Label: "undo " + c.meta.Label}, target: next}, nil
}
func (c *restoreCommand) EstimateSize() int { return fallbackSize(c.meta) }
func (c *restoreCommand) Serialize() (SerializedCommand, error) {
	return SerializedCommand{Type: CmdComposite, Meta: serializeMeta(c.meta)}, nil
}

// CherryPick applies commitId's command onto HEAD through the Conflict
// Resolver. On success it records a new
// commit with a single parent (HEAD); on conflict it returns the
// *ConflictReport and leaves state unchanged.
func (e *HistoryEngine) CherryPick(commitId CommitID) (CommitID, *ConflictReport, error) {
	var id CommitID
	var report *ConflictReport
	err := e.queue.Do(context.Background(), func() error {
		var err error
		id, report, err = e.cherryPick(commitId)
		return err
	})
	return id, report, err
}

func (e *HistoryEngine) cherryPick(commitId CommitID) (CommitID, *ConflictReport, error) {
	commit, ok := e.graph.Commits[commitId]
	if !ok {
		return "", nil, fmt.Errorf("editor: unknown commit %s", commitId)
	}
	if len(commit.ParentIDs) == 0 {
		return "", nil, fmt.Errorf("editor: cannot cherry-pick the root commit")
	}
	srcState, err := e.stateAt(commit.ParentIDs[0])
	if err != nil {
		return "", nil, err
	}
	dstState := e.getState()
	revived, conflicts, err := resolveForeignCommit(dstState, srcState, commit)
	if err != nil {
		return "", nil, err
	}
	if conflicts != nil {
		return "", conflicts, nil
	}
	id, err := e.recordCommit(fmt.Sprintf("cherry-pick %s", commit.Label), []Command{revived})
	return id, nil, err
}

// Revert computes the inverse of commitId's command and commits it on HEAD,
// labeled "revert <label>".
func (e *HistoryEngine) Revert(commitId CommitID) (CommitID, error) {
	var id CommitID
	err := e.queue.Do(context.Background(), func() error {
		var err error
		id, err = e.revert(commitId)
		return err
	})
	return id, err
}

func (e *HistoryEngine) revert(commitId CommitID) (CommitID, error) {
	commit, ok := e.graph.Commits[commitId]
	if !ok {
		return "", fmt.Errorf("editor: unknown commit %s", commitId)
	}
	if len(commit.ParentIDs) == 0 {
		return "", fmt.Errorf("editor: cannot revert the root commit")
	}
	prevAtCommit, err := e.stateAt(commit.ParentIDs[0])
	if err != nil {
		return "", err
	}
	nextAtCommit, err := e.stateAt(commitId)
	if err != nil {
		return "", err
	}
	inverse, err := commit.Commands[0].Invert(prevAtCommit, nextAtCommit)
	if err != nil {
		return "", err
	}
	return e.recordCommit(fmt.Sprintf("revert %s", commit.Label), []Command{inverse})
}

// MergeRequest names the two tips Merge combines.
type MergeRequest struct {
	Ours, Theirs CommitID
	Label        string
}

// Merge checks out ours, replays the first-parent path
// LCA(ours,theirs) -> theirs through the Resolver onto ours, and records a
// two-parent commit. Conflicts abort and leave state
// unchanged.
func (e *HistoryEngine) Merge(req MergeRequest) (CommitID, *ConflictReport, error) {
	var id CommitID
	var report *ConflictReport
	err := e.queue.Do(context.Background(), func() error {
		var err error
		id, report, err = e.merge(req)
		return err
	})
	return id, report, err
}

func (e *HistoryEngine) merge(req MergeRequest) (CommitID, *ConflictReport, error) {
	if _, ok := e.graph.Commits[req.Ours]; !ok {
		return "", nil, fmt.Errorf("editor: unknown commit %s", req.Ours)
	}
	if _, ok := e.graph.Commits[req.Theirs]; !ok {
		return "", nil, fmt.Errorf("editor: unknown commit %s", req.Theirs)
	}

	if err := e.checkout(CheckoutTarget{CommitID: req.Ours}); err != nil {
		return "", nil, err
	}

	lca, err := e.lca(req.Ours, req.Theirs)
	if err != nil {
		return "", nil, err
	}
	chain, err := e.firstParentChainTo(req.Theirs, lca) // leaf(theirs)-first
	if err != nil {
		return "", nil, err
	}

	state := e.getState()
	var replayed []Command
	for i := len(chain) - 1; i >= 0; i-- { // root-first replay
		commitID := chain[i]
		commit := e.graph.Commits[commitID]
		srcState, err := e.stateAt(commit.ParentIDs[0])
		if err != nil {
			return "", nil, err
		}
		revived, conflicts, err := resolveForeignCommit(state, srcState, commit)
		if err != nil {
			return "", nil, err
		}
		if conflicts != nil {
			return "", conflicts, nil
		}
		next, err := revived.Apply(state)
		if err != nil {
			return "", nil, err
		}
		state = next
		replayed = append(replayed, revived)
	}

	label := req.Label
	if label == "" {
		label = fmt.Sprintf("Merge %s into %s", req.Theirs, req.Ours)
	}
	composite := NewComposite(label, replayed)
	e.setState(state)

	id := CommitID(newID())
	commit := &Commit{
		ID:          id,
		ParentIDs:   []CommitID{req.Ours, req.Theirs},
		Label:       label,
		TimestampMs: nowMs(),
		Commands:    []Command{composite},
		ByteSize:    composite.EstimateSize(),
	}
	e.graph.Commits[id] = commit
	e.graph.Children[req.Ours] = append(e.graph.Children[req.Ours], id)
	e.graph.Children[req.Theirs] = append(e.graph.Children[req.Theirs], id)
	if e.graph.Head.Type == HeadBranch {
		e.graph.Branches[e.graph.Head.Name] = id
	}
	e.graph.Head.At = id
	e.cacheSnapshot(id, state)
	return id, nil, nil
}

// Squash requires that ids[len-1] is reachable from ids[0] via first-parent
// only (*NonLinearRange otherwise). It replaces the chain with a single
// commit whose forward command is the composite of the chain, rewires
// children/branch-tips/HEAD, and deletes the superseded commits.
func (e *HistoryEngine) Squash(ids []CommitID) (CommitID, error) {
	var id CommitID
	err := e.queue.Do(context.Background(), func() error {
		var err error
		id, err = e.squash(ids)
		return err
	})
	return id, err
}

func (e *HistoryEngine) squash(ids []CommitID) (CommitID, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("editor: squash requires at least one commit")
	}
	first, last := ids[0], ids[len(ids)-1]
	chain, err := e.firstParentChainTo(last, first) // leaf(last)-first, exclusive of first
	if err != nil {
		return "", &NonLinearRange{From: first, To: last}
	}
	full := append(chain, first) // last-first ... first, i.e. reverse chronological
	// Validate the caller's ids are exactly this chain (order-independent).
	want := map[CommitID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	if len(want) != len(full) {
		return "", &NonLinearRange{From: first, To: last}
	}
	for _, id := range full {
		if !want[id] {
			return "", &NonLinearRange{From: first, To: last}
		}
	}

	firstCommit, ok := e.graph.Commits[first]
	if !ok {
		return "", fmt.Errorf("editor: unknown commit %s", first)
	}
	if len(firstCommit.ParentIDs) == 0 {
		return "", fmt.Errorf("editor: cannot squash the root commit")
	}
	parent := firstCommit.ParentIDs[0]

	// Build root-first command order: first, then first's child, ... last.
	rootFirst := make([]CommitID, len(full))
	for i, id := range full {
		rootFirst[len(full)-1-i] = id
	}
	var cmds []Command
	for _, id := range rootFirst {
		cmds = append(cmds, e.graph.Commits[id].Commands...)
	}

	lastCommit := e.graph.Commits[last]
	label := fmt.Sprintf("Squash %s..%s", firstCommit.Label, lastCommit.Label)
	composite := NewComposite(label, cmds)

	squashedID := CommitID(newID())
	newCommit := &Commit{
		ID:          squashedID,
		ParentIDs:   []CommitID{parent},
		Label:       label,
		TimestampMs: nowMs(),
		Commands:    []Command{composite},
		ByteSize:    composite.EstimateSize(),
	}
	e.graph.Commits[squashedID] = newCommit

	// Rewire children[parent]: drop `first`, add the new commit.
	children := e.graph.Children[parent]
	rewired := children[:0]
	for _, c := range children {
		if c != first {
			rewired = append(rewired, c)
		}
	}
	e.graph.Children[parent] = append(rewired, squashedID)

	// Rewire children of `last` to point at the new commit.
	e.graph.Children[squashedID] = append([]CommitID(nil), e.graph.Children[last]...)
	for _, child := range e.graph.Children[last] {
		c := e.graph.Commits[child]
		for i, p := range c.ParentIDs {
			if p == last {
				c.ParentIDs[i] = squashedID
			}
		}
	}

	inChain := want
	for name, tip := range e.graph.Branches {
		if inChain[tip] {
			e.graph.Branches[name] = squashedID
		}
	}
	if inChain[e.graph.Head.At] {
		e.graph.Head.At = squashedID
	}

	for _, id := range full {
		delete(e.graph.Commits, id)
		delete(e.graph.Children, id)
		e.dropSnapshot(id)
	}

	if e.graph.Head.At == squashedID {
		state, err := e.stateAt(parent)
		if err == nil {
			for _, c := range cmds {
				state, err = c.Apply(state)
				if err != nil {
					break
				}
			}
			if err == nil {
				e.setState(state)
				e.cacheSnapshot(squashedID, state)
			}
		}
	}

	return squashedID, nil
}
