package editor

import (
	"context"
	"fmt"
	"time"
)

// txFrame is one level of the transaction stack. Commands accumulate in
// push order; a command sharing the top command's mergeKey within the
// coalesce window replaces it rather than appending.
type txFrame struct {
	label    string
	commands []Command
}

// push appends cmd to the frame, first trying to coalesce it with the
// frame's last command. Coalescing is in-frame only: it never looks past a
// transaction boundary.
func (f *txFrame) push(cmd Command, windowMs int64) {
	if len(f.commands) > 0 {
		last := f.commands[len(f.commands)-1]
		lastC, lastOk := last.(Coalescable)
		newC, newOk := cmd.(Coalescable)
		if lastOk && newOk {
			lastMeta, newMeta := last.CommandMeta(), cmd.CommandMeta()
			if lastMeta.Coalescable && newMeta.Coalescable && lastMeta.MergeKey == newMeta.MergeKey && newC.CanCoalesceWith(last) {
				elapsed := newMeta.Timestamp.Sub(lastMeta.Timestamp)
				if elapsed >= 0 && elapsed <= time.Duration(windowMs)*time.Millisecond {
					f.commands[len(f.commands)-1] = newC.CoalesceWith(lastC)
					return
				}
			}
		}
	}
	f.commands = append(f.commands, cmd)
}

// BeginTransaction pushes a new frame onto the transaction stack.
func (e *HistoryEngine) BeginTransaction(name string) {
	e.tx = append(e.tx, &txFrame{label: name})
}

// Push accumulates cmd within the top transaction frame, or — when no
// transaction is open — executes it immediately as a single commit.
// Execute is a synonym used for the non-transactional case.
func (e *HistoryEngine) Push(cmd Command) (CommitID, error) {
	if len(e.tx) == 0 {
		return e.recordCommit(cmd.CommandMeta().Label, []Command{cmd})
	}
	e.tx[len(e.tx)-1].push(cmd, e.options.CoalesceWindowMs)
	return "", nil
}

// Execute is Push's synonym for the non-transactional linear edit loop.
func (e *HistoryEngine) Execute(cmd Command) (CommitID, error) { return e.Push(cmd) }

// EndTransaction pops the top frame. commit=false discards it.
// commit=true, on a nested
// frame, folds its commands into the parent frame as a single Composite;
// at the outermost level it records a real commit and (when configured)
// triggers autosave.
func (e *HistoryEngine) EndTransaction(commit bool) (CommitID, error) {
	if len(e.tx) == 0 {
		return "", fmt.Errorf("editor: no open transaction")
	}
	frame := e.tx[len(e.tx)-1]
	e.tx = e.tx[:len(e.tx)-1]
	if !commit || len(frame.commands) == 0 {
		return "", nil
	}

	if len(e.tx) > 0 {
		var folded Command
		if len(frame.commands) == 1 {
			folded = frame.commands[0]
		} else {
			folded = NewComposite(frame.label, frame.commands)
		}
		e.tx[len(e.tx)-1].push(folded, e.options.CoalesceWindowMs)
		return "", nil
	}

	id, err := e.recordCommit(frame.label, frame.commands)
	if err == nil && e.options.AutosaveOnTransactionEnd {
		e.triggerAutosave("endTransaction")
	}
	return id, err
}

// CancelTransaction is a synonym for EndTransaction(false).
func (e *HistoryEngine) CancelTransaction() { _, _ = e.EndTransaction(false) }

// triggerAutosave best-effort saves to the engine's configured storage key;
// failures are reported via onError and never raised.
func (e *HistoryEngine) triggerAutosave(reason string) {
	if err := e.SaveAt(e.options.StorageKey); err != nil {
		e.reportError(&PersistenceError{Op: "autosave:" + reason, Key: e.options.StorageKey, Err: err})
	}
}

// RunAutosaveInterval ticks triggerAutosave every AutosaveIntervalMs until
// ctx is done. The host owns the
// context's lifetime; this never blocks the caller.
func (e *HistoryEngine) RunAutosaveInterval(ctx context.Context) {
	interval := time.Duration(e.options.AutosaveIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.triggerAutosave("interval")
			}
		}
	}()
}

// BeforeUnload triggers a best-effort autosave; hosts call this from the
// page's beforeunload handler.
func (e *HistoryEngine) BeforeUnload() { e.triggerAutosave("beforeunload") }
