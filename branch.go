package editor

import "fmt"

// CreateBranch refuses duplicate names; at defaults to the current HEAD
// commit when empty.
func (e *HistoryEngine) CreateBranch(name string, at CommitID) error {
	if name == "" {
		return fmt.Errorf("editor: branch name must not be empty")
	}
	if _, exists := e.graph.Branches[name]; exists {
		return fmt.Errorf("editor: branch %q already exists", name)
	}
	if at == "" {
		at = e.graph.Head.At
	}
	if _, ok := e.graph.Commits[at]; !ok {
		return fmt.Errorf("editor: unknown commit %s", at)
	}
	e.graph.Branches[name] = at
	return nil
}

// RenameBranch refuses protected names and the branch HEAD currently sits
// on.
func (e *HistoryEngine) RenameBranch(oldName, newName string) error {
	tip, ok := e.graph.Branches[oldName]
	if !ok {
		return fmt.Errorf("editor: unknown branch %q", oldName)
	}
	if e.graph.Protected.Branches[oldName] {
		return fmt.Errorf("editor: branch %q is protected", oldName)
	}
	if e.graph.Head.Type == HeadBranch && e.graph.Head.Name == oldName {
		return fmt.Errorf("editor: cannot rename the branch HEAD is on")
	}
	if _, exists := e.graph.Branches[newName]; exists {
		return fmt.Errorf("editor: branch %q already exists", newName)
	}
	delete(e.graph.Branches, oldName)
	e.graph.Branches[newName] = tip
	return nil
}

// DeleteBranch removes a branch ref; commits are unaffected.
func (e *HistoryEngine) DeleteBranch(name string) error {
	if _, ok := e.graph.Branches[name]; !ok {
		return fmt.Errorf("editor: unknown branch %q", name)
	}
	if e.graph.Protected.Branches[name] {
		return fmt.Errorf("editor: branch %q is protected", name)
	}
	if e.graph.Head.Type == HeadBranch && e.graph.Head.Name == name {
		return fmt.Errorf("editor: cannot delete the branch HEAD is on")
	}
	delete(e.graph.Branches, name)
	return nil
}

// ListBranches returns every branch name mapped to its tip commit.
func (e *HistoryEngine) ListBranches() map[string]CommitID {
	out := make(map[string]CommitID, len(e.graph.Branches))
	for name, id := range e.graph.Branches {
		out[name] = id
	}
	return out
}

// AddCheckpoint marks the current HEAD commit as a named, GC-protected
// checkpoint.
func (e *HistoryEngine) AddCheckpoint(name string) (CommitID, error) {
	at := e.graph.Head.At
	if e.graph.Protected.Branches == nil {
		e.graph.Protected.Branches = map[string]bool{}
	}
	e.graph.Protected.Commits[at] = true
	e.graph.Protected.Branches[checkpointBranchKey(name)] = true
	if e.checkpoints == nil {
		e.checkpoints = map[string]CommitID{}
	}
	e.checkpoints[name] = at
	return at, nil
}

// JumpToCheckpoint is Checkout({commitId: checkpoints[name]}).
func (e *HistoryEngine) JumpToCheckpoint(name string) error {
	id, ok := e.checkpoints[name]
	if !ok {
		return fmt.Errorf("editor: unknown checkpoint %q", name)
	}
	return e.Checkout(CheckoutTarget{CommitID: id})
}

// checkpointBranchKey namespaces a checkpoint name within the protected
// branches set so it can never collide with an actual branch name.
func checkpointBranchKey(name string) string { return "checkpoint:" + name }

// Label rewrites commit id's human label; this is the sole mutation allowed
// on an otherwise-immutable commit.
func (e *HistoryEngine) Label(id CommitID, text string) error {
	commit, ok := e.graph.Commits[id]
	if !ok {
		return fmt.Errorf("editor: unknown commit %s", id)
	}
	commit.Label = text
	return nil
}
