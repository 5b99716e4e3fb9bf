package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CommandType tags a SerializedCommand's discriminated union.
type CommandType string

const (
	CmdAddLayer                   CommandType = "addLayer"
	CmdAddAdjustmentLayer         CommandType = "addAdjustmentLayer"
	CmdRemoveLayer                CommandType = "removeLayer"
	CmdReorderLayers              CommandType = "reorderLayers"
	CmdUpdateLayer                CommandType = "updateLayer"
	CmdUpdateAdjustmentParameters CommandType = "updateAdjustmentParameters"
	CmdSetSelection               CommandType = "setSelection"
	CmdSetViewport                CommandType = "setViewport"
	CmdSetActiveTool              CommandType = "setActiveTool"
	CmdDocumentRotate             CommandType = "documentRotate"
	CmdDocumentFlip               CommandType = "documentFlip"
	CmdDocumentDimensions         CommandType = "documentDimensions"
	CmdComposite                  CommandType = "composite"
)

// SerializedMeta is Meta's wire form.
type SerializedMeta struct {
	Label         string    `json:"label"`
	Scope         Scope     `json:"scope"`
	Timestamp     time.Time `json:"timestamp"`
	Coalescable   bool      `json:"coalescable,omitempty"`
	MergeKey      string    `json:"mergeKey,omitempty"`
	NonUndoable   bool      `json:"nonUndoable,omitempty"`
	EstimatedSize int       `json:"estimatedSize,omitempty"`
}

func serializeMeta(m Meta) SerializedMeta {
	return SerializedMeta{
		Label: m.Label, Scope: m.Scope, Timestamp: m.Timestamp,
		Coalescable: m.Coalescable, MergeKey: m.MergeKey,
		NonUndoable: m.NonUndoable, EstimatedSize: m.EstimatedSize,
	}
}

func (m SerializedMeta) toMeta() Meta {
	return Meta{
		Label: m.Label, Scope: m.Scope, Timestamp: m.Timestamp,
		Coalescable: m.Coalescable, MergeKey: m.MergeKey,
		NonUndoable: m.NonUndoable, EstimatedSize: m.EstimatedSize,
	}
}

// SerializedCommand is a tagged union over every command variant.
// Each concrete field group is populated only when Type names that variant;
// Composite recursively nests Children.
type SerializedCommand struct {
	Type CommandType    `json:"type"`
	Meta SerializedMeta `json:"meta"`

	Layer *Layer         `json:"layer,omitempty"`
	Pos   *LayerPosition `json:"pos,omitempty"`

	ID LayerID `json:"id,omitempty"`

	From *int `json:"from,omitempty"`
	To   *int `json:"to,omitempty"`

	Patch *LayerPatch `json:"patch,omitempty"`

	Kind   AdjustmentKind `json:"kind,omitempty"`
	Params ParamMap       `json:"params,omitempty"`

	IDs Selection `json:"ids,omitempty"`

	ViewportPatch *ViewportPatch `json:"viewportPatch,omitempty"`

	Active *ActiveTool `json:"active,omitempty"`

	DeltaDeg *float64 `json:"deltaDeg,omitempty"`

	FlipParams *DocumentFlipParams `json:"flipParams,omitempty"`

	Next     *DocumentDimensionsParams `json:"next,omitempty"`
	Previous *DocumentDimensionsParams `json:"previous,omitempty"`

	Limits *Limits `json:"limits,omitempty"`

	Children []SerializedCommand `json:"children,omitempty"`
}

// Serialize implementations: one per concrete command type.

func (c *AddLayerCommand) Serialize() (SerializedCommand, error) {
	layer := c.Layer
	return SerializedCommand{Type: CmdAddLayer, Meta: serializeMeta(c.Meta_), Layer: &layer, Pos: &c.Pos}, nil
}

func (c *RemoveLayerCommand) Serialize() (SerializedCommand, error) {
	return SerializedCommand{Type: CmdRemoveLayer, Meta: serializeMeta(c.Meta_), ID: c.ID}, nil
}

func (c *ReorderLayersCommand) Serialize() (SerializedCommand, error) {
	from, to := c.From, c.To
	return SerializedCommand{Type: CmdReorderLayers, Meta: serializeMeta(c.Meta_), From: &from, To: &to}, nil
}

func (c *UpdateLayerCommand) Serialize() (SerializedCommand, error) {
	patch := c.Patch
	return SerializedCommand{Type: CmdUpdateLayer, Meta: serializeMeta(c.Meta_), ID: c.ID, Patch: &patch}, nil
}

func (c *SetSelectionCommand) Serialize() (SerializedCommand, error) {
	return SerializedCommand{Type: CmdSetSelection, Meta: serializeMeta(c.Meta_), IDs: c.IDs}, nil
}

func (c *SetViewportCommand) Serialize() (SerializedCommand, error) {
	patch := c.Patch
	return SerializedCommand{Type: CmdSetViewport, Meta: serializeMeta(c.Meta_), ViewportPatch: &patch}, nil
}

func (c *SetActiveToolCommand) Serialize() (SerializedCommand, error) {
	active := c.Active
	return SerializedCommand{Type: CmdSetActiveTool, Meta: serializeMeta(c.Meta_), Active: &active}, nil
}

func (c *AddAdjustmentLayerCommand) Serialize() (SerializedCommand, error) {
	pos := c.Pos
	return SerializedCommand{
		Type: CmdAddAdjustmentLayer, Meta: serializeMeta(c.Meta_),
		ID: c.CreatedID, Kind: c.Kind, Params: c.Params, Pos: &pos,
	}, nil
}

func (c *UpdateAdjustmentParametersCommand) Serialize() (SerializedCommand, error) {
	return SerializedCommand{Type: CmdUpdateAdjustmentParameters, Meta: serializeMeta(c.Meta_), ID: c.ID, Params: c.Params}, nil
}

func (c *DocumentRotateCommand) Serialize() (SerializedCommand, error) {
	delta := c.DeltaDeg
	limits := c.Limits
	return SerializedCommand{Type: CmdDocumentRotate, Meta: serializeMeta(c.Meta_), DeltaDeg: &delta, Limits: &limits}, nil
}

func (c *DocumentFlipCommand) Serialize() (SerializedCommand, error) {
	params := c.Params
	limits := c.Limits
	return SerializedCommand{Type: CmdDocumentFlip, Meta: serializeMeta(c.Meta_), FlipParams: &params, Limits: &limits}, nil
}

func (c *DocumentDimensionsCommand) Serialize() (SerializedCommand, error) {
	next, prev, limits := c.Next, c.Previous, c.Limits
	return SerializedCommand{Type: CmdDocumentDimensions, Meta: serializeMeta(c.Meta_), Next: &next, Previous: &prev, Limits: &limits}, nil
}

func (c *CompositeCommand) Serialize() (SerializedCommand, error) {
	children := make([]SerializedCommand, len(c.Children))
	for i, child := range c.Children {
		sc, err := child.Serialize()
		if err != nil {
			return SerializedCommand{}, err
		}
		children[i] = sc
	}
	return SerializedCommand{Type: CmdComposite, Meta: serializeMeta(c.Meta_), Children: children}, nil
}

// DeserializeCommand revives a runtime Command from its wire form.
// Unrecognized tags return a plain error describing the tag; the caller
// (Import) wraps it in a *SerializationError and skips the offending commit
// rather than aborting the whole load.
func DeserializeCommand(sc SerializedCommand) (Command, error) {
	meta := sc.Meta.toMeta()
	switch sc.Type {
	case CmdAddLayer:
		if sc.Layer == nil || sc.Pos == nil {
			return nil, fmt.Errorf("addLayer: missing layer or pos")
		}
		return &AddLayerCommand{Meta_: meta, Layer: *sc.Layer, Pos: *sc.Pos}, nil
	case CmdRemoveLayer:
		return &RemoveLayerCommand{Meta_: meta, ID: sc.ID}, nil
	case CmdReorderLayers:
		if sc.From == nil || sc.To == nil {
			return nil, fmt.Errorf("reorderLayers: missing from/to")
		}
		return &ReorderLayersCommand{Meta_: meta, From: *sc.From, To: *sc.To}, nil
	case CmdUpdateLayer:
		if sc.Patch == nil {
			return nil, fmt.Errorf("updateLayer: missing patch")
		}
		return &UpdateLayerCommand{Meta_: meta, ID: sc.ID, Patch: *sc.Patch}, nil
	case CmdSetSelection:
		return &SetSelectionCommand{Meta_: meta, IDs: sc.IDs}, nil
	case CmdSetViewport:
		if sc.ViewportPatch == nil {
			return nil, fmt.Errorf("setViewport: missing patch")
		}
		return &SetViewportCommand{Meta_: meta, Patch: *sc.ViewportPatch}, nil
	case CmdSetActiveTool:
		if sc.Active == nil {
			return nil, fmt.Errorf("setActiveTool: missing active")
		}
		return &SetActiveToolCommand{Meta_: meta, Active: *sc.Active}, nil
	case CmdAddAdjustmentLayer:
		pos := LayerPosition{}
		if sc.Pos != nil {
			pos = *sc.Pos
		}
		return &AddAdjustmentLayerCommand{Meta_: meta, Kind: sc.Kind, Params: sc.Params, Pos: pos, CreatedID: sc.ID}, nil
	case CmdUpdateAdjustmentParameters:
		return &UpdateAdjustmentParametersCommand{Meta_: meta, ID: sc.ID, Params: sc.Params}, nil
	case CmdDocumentRotate:
		if sc.DeltaDeg == nil {
			return nil, fmt.Errorf("documentRotate: missing deltaDeg")
		}
		lim := DefaultLimits()
		if sc.Limits != nil {
			lim = *sc.Limits
		}
		return &DocumentRotateCommand{Meta_: meta, DeltaDeg: *sc.DeltaDeg, Limits: lim}, nil
	case CmdDocumentFlip:
		if sc.FlipParams == nil {
			return nil, fmt.Errorf("documentFlip: missing flipParams")
		}
		lim := DefaultLimits()
		if sc.Limits != nil {
			lim = *sc.Limits
		}
		return &DocumentFlipCommand{Meta_: meta, Params: *sc.FlipParams, Limits: lim}, nil
	case CmdDocumentDimensions:
		if sc.Next == nil || sc.Previous == nil {
			return nil, fmt.Errorf("documentDimensions: missing next/previous")
		}
		lim := DefaultLimits()
		if sc.Limits != nil {
			lim = *sc.Limits
		}
		return &DocumentDimensionsCommand{Meta_: meta, Next: *sc.Next, Previous: *sc.Previous, Limits: lim}, nil
	case CmdComposite:
		children := make([]Command, len(sc.Children))
		for i, child := range sc.Children {
			cmd, err := DeserializeCommand(child)
			if err != nil {
				return nil, err
			}
			children[i] = cmd
		}
		return &CompositeCommand{Meta_: meta, Children: children}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", sc.Type)
	}
}

// --- Persisted document schema ---

const (
	SchemaEditor  = "phototis.editor.v1"
	SchemaHistory = "phototis.history.v1"
)

// SerializedCommit is a Commit's wire form.
type SerializedCommit struct {
	ID        CommitID            `json:"id"`
	ParentIDs []CommitID          `json:"parentIds"`
	Label     string              `json:"label"`
	Timestamp int64               `json:"timestamp"`
	Thumbnail []byte              `json:"thumbnail,omitempty"`
	ByteSize  int                 `json:"byteSize"`
	Commands  []SerializedCommand `json:"commands"`
}

type SerializedHead struct {
	Type HeadType `json:"type"`
	Name string   `json:"name,omitempty"`
	At   CommitID `json:"at"`
}

type SerializedProtected struct {
	Commits  []CommitID `json:"commits"`
	Branches []string   `json:"branches"`
}

type SerializedGraph struct {
	Commits   map[CommitID]SerializedCommit `json:"commits"`
	Branches  map[string]CommitID           `json:"branches"`
	Children  map[CommitID][]CommitID       `json:"children"`
	Head      SerializedHead                `json:"head"`
	Protected SerializedProtected           `json:"protected"`
}

// SerializedHistory is the full history-graph wire form returned by
// HistoryEngine.Export.
type SerializedHistory struct {
	Version   int                         `json:"version"`
	Schema    string                      `json:"schema"`
	SavedAt   int64                       `json:"savedAt"`
	Graph     SerializedGraph             `json:"graph"`
	Snapshots map[CommitID]CanonicalState `json:"snapshots,omitempty"`
	Settings  *HistorySettings            `json:"settings,omitempty"`
}

// SerializedDocument is the top-level persisted document.
type SerializedDocument struct {
	Version int               `json:"version"`
	Schema  string            `json:"schema"`
	SavedAt int64             `json:"savedAt"`
	State   CanonicalState    `json:"state"`
	History SerializedHistory `json:"history"`
}

// StorageAdapter is the persistence backend the engine saves to and loads
// from. The default adapter is a simple in-memory keyed blob
// store; production hosts inject their own (IndexedDB, filesystem, ...).
type StorageAdapter interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, bool, error)
}

// MemoryStorage is the default StorageAdapter: a keyed in-memory blob store.
type MemoryStorage struct {
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{blobs: map[string][]byte{}} }

func (m *MemoryStorage) Save(key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

func (m *MemoryStorage) Load(key string) ([]byte, bool, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// MarshalDocument serializes state+history into the "phototis.editor.v1"
// wire schema.
func MarshalDocument(state CanonicalState, history SerializedHistory, savedAtMs int64) ([]byte, error) {
	doc := SerializedDocument{
		Version: 1, Schema: SchemaEditor, SavedAt: savedAtMs,
		State: state, History: history,
	}
	return json.Marshal(doc)
}

// UnmarshalDocument parses a "phototis.editor.v1" document, validating the
// schema version before returning.
func UnmarshalDocument(data []byte) (SerializedDocument, error) {
	var doc SerializedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return SerializedDocument{}, fmt.Errorf("editor: parse document: %w", err)
	}
	if doc.Schema != SchemaEditor || doc.Version != 1 {
		return SerializedDocument{}, fmt.Errorf("editor: unsupported document schema %q v%d", doc.Schema, doc.Version)
	}
	return doc, nil
}

// Export returns the full serialized history graph.
func (e *HistoryEngine) Export() (SerializedHistory, error) {
	commits := make(map[CommitID]SerializedCommit, len(e.graph.Commits))
	for id, c := range e.graph.Commits {
		scs := make([]SerializedCommand, len(c.Commands))
		for i, cmd := range c.Commands {
			sc, err := cmd.Serialize()
			if err != nil {
				return SerializedHistory{}, err
			}
			scs[i] = sc
		}
		commits[id] = SerializedCommit{
			ID: c.ID, ParentIDs: append([]CommitID(nil), c.ParentIDs...),
			Label: c.Label, Timestamp: c.TimestampMs, Thumbnail: c.Thumbnail,
			ByteSize: c.ByteSize, Commands: scs,
		}
	}
	branches := make(map[string]CommitID, len(e.graph.Branches))
	for name, id := range e.graph.Branches {
		branches[name] = id
	}
	children := make(map[CommitID][]CommitID, len(e.graph.Children))
	for id, kids := range e.graph.Children {
		children[id] = append([]CommitID(nil), kids...)
	}
	protectedCommits := make([]CommitID, 0, len(e.graph.Protected.Commits))
	for id := range e.graph.Protected.Commits {
		protectedCommits = append(protectedCommits, id)
	}
	protectedBranches := make([]string, 0, len(e.graph.Protected.Branches))
	for name := range e.graph.Protected.Branches {
		protectedBranches = append(protectedBranches, name)
	}
	head := SerializedHead{Type: e.graph.Head.Type, Name: e.graph.Head.Name, At: e.graph.Head.At}

	snapshots := make(map[CommitID]CanonicalState, len(e.snapshots))
	for id, s := range e.snapshots {
		snapshots[id] = s.Clone()
	}
	settings := e.options
	return SerializedHistory{
		Version: 1, Schema: SchemaHistory, SavedAt: nowMs(),
		Graph: SerializedGraph{
			Commits: commits, Branches: branches, Children: children,
			Head:      head,
			Protected: SerializedProtected{Commits: protectedCommits, Branches: protectedBranches},
		},
		Snapshots: snapshots,
		Settings:  &settings,
	}, nil
}

// Import rehydrates commits (commands revived via the deserializer), rebuilds
// children, sets HEAD, then replays from root to HEAD to reconstruct
// runtime state. Commits with an unrecognized
// command tag are skipped — logged as a *SerializationError — rather than
// aborting the whole load.
func (e *HistoryEngine) Import(payload SerializedHistory) error {
	return e.queue.Do(context.Background(), func() error {
		return e.importHistory(payload)
	})
}

func (e *HistoryEngine) importHistory(payload SerializedHistory) error {
	commits := make(map[CommitID]*Commit, len(payload.Graph.Commits))
	for id, sc := range payload.Graph.Commits {
		cmds := make([]Command, 0, len(sc.Commands))
		unrecognized := false
		for _, scmd := range sc.Commands {
			cmd, err := DeserializeCommand(scmd)
			if err != nil {
				e.reportError(&SerializationError{CommitID: id, Tag: string(scmd.Type), Err: err})
				unrecognized = true
				continue
			}
			cmds = append(cmds, cmd)
		}
		if unrecognized {
			continue // a command in this commit was unrecognized; skip the commit
		}
		commits[id] = &Commit{
			ID: sc.ID, ParentIDs: append([]CommitID(nil), sc.ParentIDs...),
			Label: sc.Label, TimestampMs: sc.Timestamp, Thumbnail: sc.Thumbnail,
			ByteSize: sc.ByteSize, Commands: cmds,
		}
	}

	children := make(map[CommitID][]CommitID, len(commits))
	for id, c := range commits {
		for _, p := range c.ParentIDs {
			children[p] = append(children[p], id)
		}
	}
	_ = payload.Graph.Children // rebuilt above; the wire payload's copy is untrusted

	branches := make(map[string]CommitID, len(payload.Graph.Branches))
	for name, id := range payload.Graph.Branches {
		branches[name] = id
	}
	protectedCommits := make(map[CommitID]bool, len(payload.Graph.Protected.Commits))
	for _, id := range payload.Graph.Protected.Commits {
		protectedCommits[id] = true
	}
	protectedBranches := make(map[string]bool, len(payload.Graph.Protected.Branches))
	for _, name := range payload.Graph.Protected.Branches {
		protectedBranches[name] = true
	}

	rootID := payload.Graph.Head.At
	for id, c := range commits {
		if len(c.ParentIDs) == 0 {
			rootID = id
			break
		}
	}

	e.graph = HistoryGraph{
		Commits: commits, Branches: branches, Children: children,
		Head:      Head{Type: payload.Graph.Head.Type, Name: payload.Graph.Head.Name, At: payload.Graph.Head.At},
		Protected: Protected{Commits: protectedCommits, Branches: protectedBranches},
		RootID:    rootID,
	}

	e.snapshots = map[CommitID]CanonicalState{}
	e.snapshotOrder = nil
	e.snapshotBytes = 0
	for id, s := range payload.Snapshots {
		if _, ok := e.graph.Commits[id]; ok {
			e.cacheSnapshot(id, s)
		}
	}
	if payload.Settings != nil {
		e.options = *payload.Settings
	}

	state, err := e.stateAt(e.graph.Head.At)
	if err != nil {
		return fmt.Errorf("editor: replay to HEAD: %w", err)
	}
	e.setState(state)
	return nil
}

// Save serializes state+graph under key (or the engine's configured
// StorageKey when key is empty) via the storage adapter.
func (e *HistoryEngine) Save(key string) error {
	if key == "" {
		key = e.options.StorageKey
	}
	return e.SaveAt(key)
}

// SaveAt serializes state+graph and writes it to the storage adapter under
// key.
func (e *HistoryEngine) SaveAt(key string) error {
	return e.queue.Do(context.Background(), func() error {
		return e.saveAt(key)
	})
}

func (e *HistoryEngine) saveAt(key string) error {
	history, err := e.Export()
	if err != nil {
		return err
	}
	data, err := MarshalDocument(e.getState(), history, nowMs())
	if err != nil {
		return err
	}
	return e.storage.Save(key, data)
}

// LoadAt reads key from the storage adapter, validates the schema version,
// rehydrates state and graph, and replays if necessary to reach the
// persisted HEAD.
func (e *HistoryEngine) LoadAt(key string) (CanonicalState, SerializedHistory, error) {
	var state CanonicalState
	var history SerializedHistory
	err := e.queue.Do(context.Background(), func() error {
		data, ok, err := e.storage.Load(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("editor: no document stored at key %q", key)
		}
		doc, err := UnmarshalDocument(data)
		if err != nil {
			return err
		}
		if err := e.importHistory(doc.History); err != nil {
			return err
		}
		state, history = e.getState(), doc.History
		return nil
	})
	return state, history, err
}
