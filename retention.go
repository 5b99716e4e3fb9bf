package editor

import (
	"sort"
	"time"
)

// reachable returns the set of commit ids that are ancestors of any branch
// tip or HEAD.
func (e *HistoryEngine) reachable() map[CommitID]bool {
	seen := map[CommitID]bool{}
	mark := func(start CommitID) {
		cur := start
		for {
			if seen[cur] {
				return
			}
			seen[cur] = true
			commit, ok := e.graph.Commits[cur]
			if !ok || len(commit.ParentIDs) == 0 {
				return
			}
			for _, p := range commit.ParentIDs[1:] {
				markAncestors(e.graph.Commits, p, seen)
			}
			cur = commit.ParentIDs[0]
		}
	}
	for _, tip := range e.graph.Branches {
		mark(tip)
	}
	mark(e.graph.Head.At)
	return seen
}

// markAncestors walks every parent (not just first-parent) of id, marking
// each visited commit in seen — used for merge commits' second parent,
// which the first-parent-only walk in reachable's mark() loop skips.
func markAncestors(commits map[CommitID]*Commit, id CommitID, seen map[CommitID]bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	commit, ok := commits[id]
	if !ok {
		return
	}
	for _, p := range commit.ParentIDs {
		markAncestors(commits, p, seen)
	}
}

// GC runs retention + eviction + baseline folding + (in extremis) full
// compaction, in that order. Eviction and folding never remove a protected
// commit or the root; folding moves branch tips and HEAD that sat on an
// absorbed commit onto the root. Compaction replaces the whole graph with a
// fresh root, after which only main remains protected.
func (e *HistoryEngine) GC() {
	reach := e.reachable()

	// Step 1: evict unreachable commits outside the retention window, oldest
	// first, while over budget.
	type unreachableEntry struct {
		id CommitID
		ts int64
	}
	var unreachable []unreachableEntry
	for id, c := range e.graph.Commits {
		if reach[id] || e.graph.Protected.Commits[id] {
			continue
		}
		unreachable = append(unreachable, unreachableEntry{id, c.TimestampMs})
	}
	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i].ts < unreachable[j].ts })

	nowDays := time.UnixMilli(nowMs())
	keepByAge := func(ts int64) bool {
		age := nowDays.Sub(time.UnixMilli(ts))
		return age <= time.Duration(e.options.Retention.KeepUnreachableDays)*24*time.Hour
	}
	// Newest keepUnreachableCount are always kept, regardless of age.
	keepNewest := map[CommitID]bool{}
	n := len(unreachable)
	keepCount := e.options.Retention.KeepUnreachableCount
	for i := n - 1; i >= 0 && n-i <= keepCount; i-- {
		keepNewest[unreachable[i].id] = true
	}

	evictable := make([]unreachableEntry, 0, len(unreachable))
	for _, u := range unreachable {
		if keepNewest[u.id] || keepByAge(u.ts) {
			continue
		}
		evictable = append(evictable, u)
	}

	// Evict leaves only, oldest first, in repeated passes: a commit whose
	// child survives (protected, retained, or simply newer in this pass) must
	// itself survive, or the child's parentIds would dangle. Evicting a leaf
	// can expose its parent as the next pass's leaf.
	for e.usedBytes() > e.options.MaxBytes && len(evictable) > 0 {
		progressed := false
		remaining := evictable[:0]
		for _, u := range evictable {
			if e.usedBytes() <= e.options.MaxBytes || len(e.graph.Children[u.id]) > 0 {
				remaining = append(remaining, u)
				continue
			}
			e.deleteUnreachableCommit(u.id)
			progressed = true
			e.logger.WithField("commit", u.id).Debug("gc: evicted unreachable commit")
		}
		evictable = remaining
		if !progressed {
			break
		}
	}

	// Step 2: fold the oldest reachable commits into the baseline while
	// still over budget.
	for e.usedBytes() > e.options.MaxBytes {
		next := e.nextBaselineFold()
		if next == "" {
			break
		}
		if !e.foldIntoBaseline(next) {
			break
		}
		e.logger.WithField("commit", next).Debug("gc: folded commit into baseline")
	}

	// Step 3: in extremis, compact the whole graph into a fresh root.
	if e.usedBytes() > e.options.MaxBytes {
		e.logger.WithField("usedBytes", e.usedBytes()).Warn("gc: compacting history graph, still over budget after eviction and folding")
		e.compact()
	}
}

// usedBytes sums every commit's ByteSize currently in the graph.
func (e *HistoryEngine) usedBytes() int64 {
	var total int64
	for _, c := range e.graph.Commits {
		total += int64(c.ByteSize)
	}
	return total
}

// deleteUnreachableCommit removes a commit that is neither reachable nor
// protected, detaching it from its parent's children index.
func (e *HistoryEngine) deleteUnreachableCommit(id CommitID) {
	commit, ok := e.graph.Commits[id]
	if !ok {
		return
	}
	for _, p := range commit.ParentIDs {
		kids := e.graph.Children[p]
		for i, k := range kids {
			if k == id {
				e.graph.Children[p] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	delete(e.graph.Commits, id)
	delete(e.graph.Children, id)
	e.dropSnapshot(id)
}

// nextBaselineFold returns the next commit whose effect can be absorbed into
// the baseline: the root's single child, provided it is not protected and no
// branch tip or HEAD still sits at the root itself. A commit satisfying this
// lies on every tip's path, so shifting the baseline past it cannot change
// what any branch replays to.
func (e *HistoryEngine) nextBaselineFold() CommitID {
	kids := e.graph.Children[e.graph.RootID]
	if len(kids) != 1 {
		return ""
	}
	if e.graph.Head.At == e.graph.RootID {
		return ""
	}
	for _, tip := range e.graph.Branches {
		if tip == e.graph.RootID {
			return ""
		}
	}
	if e.graph.Protected.Commits[kids[0]] {
		return ""
	}
	return kids[0]
}

// foldIntoBaseline applies id's forward command to the synthetic root's
// cached state, then removes id, rewiring its children to parent directly
// at the root. Branch tips pointing at the folded commit
// move to the root.
func (e *HistoryEngine) foldIntoBaseline(id CommitID) bool {
	commit, ok := e.graph.Commits[id]
	if !ok || len(commit.ParentIDs) == 0 {
		return false
	}
	parent := commit.ParentIDs[0]
	if parent != e.graph.RootID {
		return false // only commits directly atop the root fold in one step
	}
	rootState, err := e.stateAt(e.graph.RootID)
	if err != nil {
		return false
	}
	folded := rootState
	for _, cmd := range commit.Commands {
		folded, err = cmd.Apply(folded)
		if err != nil {
			return false
		}
	}
	e.snapshots[e.graph.RootID] = folded.Clone()

	children := e.graph.Children[id]
	e.graph.Children[e.graph.RootID] = children
	for _, child := range children {
		c := e.graph.Commits[child]
		c.ParentIDs = []CommitID{e.graph.RootID}
	}
	for name, tip := range e.graph.Branches {
		if tip == id {
			e.graph.Branches[name] = e.graph.RootID
		}
	}
	if e.graph.Head.At == id {
		e.graph.Head.At = e.graph.RootID
	}
	delete(e.graph.Commits, id)
	delete(e.graph.Children, id)
	e.dropSnapshot(id)
	return true
}

// compact discards all history, snapshotting current state as a fresh root
// and resetting every branch to point at it. Protected commit ids survive
// only if they coincide with the new root.
func (e *HistoryEngine) compact() {
	state := e.getState()
	root := &Commit{
		ID:          CommitID(newID()),
		ParentIDs:   nil,
		Label:       "Baseline",
		TimestampMs: nowMs(),
	}
	branches := make(map[string]CommitID, len(e.graph.Branches))
	for name := range e.graph.Branches {
		branches[name] = root.ID
	}
	headName := e.graph.Head.Name
	headType := e.graph.Head.Type

	e.graph = HistoryGraph{
		Commits:  map[CommitID]*Commit{root.ID: root},
		Branches: branches,
		Children: map[CommitID][]CommitID{},
		Head:     Head{Type: headType, Name: headName, At: root.ID},
		Protected: Protected{
			Commits:  map[CommitID]bool{root.ID: true},
			Branches: map[string]bool{"main": true},
		},
		RootID: root.ID,
	}
	e.snapshots = map[CommitID]CanonicalState{}
	e.snapshotOrder = nil
	e.snapshotBytes = 0
	e.cacheSnapshot(root.ID, state)
}
