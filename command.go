package editor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Scope classifies which part of CanonicalState a command touches.
type Scope string

const (
	ScopeLayers   Scope = "layers"
	ScopeTool     Scope = "tool"
	ScopeCanvas   Scope = "canvas"
	ScopeDocument Scope = "document"
	ScopeGlobal   Scope = "global"
)

// Meta is a command's metadata, shared by every concrete command.
type Meta struct {
	Label         string
	Scope         Scope
	Timestamp     time.Time
	Coalescable   bool
	MergeKey      string
	NonUndoable   bool
	EstimatedSize int // 0 means "use the fallback heuristic"
}

// Command is a pure, reversible, serializable edit. Every concrete command
// embeds a Meta and implements Apply/Invert; Apply never mutates its
// argument, and Invert is always called with exactly the state that was
// passed to the matching Apply.
type Command interface {
	CommandMeta() Meta
	Apply(s CanonicalState) (CanonicalState, error)
	Invert(prev, next CanonicalState) (Command, error)
	EstimateSize() int
	Serialize() (SerializedCommand, error)
}

// Coalescable is implemented by commands that can merge with an
// immediately-preceding command sharing the same MergeKey within the
// transaction's coalesce window.
type Coalescable interface {
	Command
	CanCoalesceWith(prior Command) bool
	CoalesceWith(prior Command) Command
}

// fallbackSize returns meta's explicit byte estimate when one is set, and
// otherwise the fallback heuristic: 128 + len(serialize(meta)).
func fallbackSize(meta Meta) int {
	if meta.EstimatedSize > 0 {
		return meta.EstimatedSize
	}
	b, _ := json.Marshal(meta)
	return 128 + len(b)
}

func newID() string { return uuid.NewString() }

// --- AddLayer ---

type AddLayerCommand struct {
	Meta_ Meta
	Layer Layer
	Pos   LayerPosition
}

func NewAddLayer(label string, layer Layer, pos LayerPosition) *AddLayerCommand {
	return &AddLayerCommand{Meta_: Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now()}, Layer: layer, Pos: pos}
}

func (c *AddLayerCommand) CommandMeta() Meta { return c.Meta_ }
func (c *AddLayerCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return AddLayer(s, c.Layer, c.Pos)
}
func (c *AddLayerCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewRemoveLayer("undo "+c.Meta_.Label, c.Layer.ID), nil
}
func (c *AddLayerCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- RemoveLayer ---

type RemoveLayerCommand struct {
	Meta_ Meta
	ID    LayerID
}

func NewRemoveLayer(label string, id LayerID) *RemoveLayerCommand {
	return &RemoveLayerCommand{Meta_: Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now()}, ID: id}
}

func (c *RemoveLayerCommand) CommandMeta() Meta { return c.Meta_ }
func (c *RemoveLayerCommand) Apply(s CanonicalState) (CanonicalState, error) {
	next, _, _, err := RemoveLayer(s, c.ID)
	return next, err
}
func (c *RemoveLayerCommand) Invert(prev, next CanonicalState) (Command, error) {
	l, ok := prev.Layers.Get(c.ID)
	if !ok {
		return nil, &InvariantError{Rule: "invert removeLayer: layer missing from prev"}
	}
	index := indexOf(prev.Layers.Order, c.ID)
	return NewAddLayer("undo "+c.Meta_.Label, l, AtIndex(index)), nil
}
func (c *RemoveLayerCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

func indexOf(order []LayerID, id LayerID) int {
	for i, existing := range order {
		if existing == id {
			return i
		}
	}
	return 0
}

// --- ReorderLayers ---

type ReorderLayersCommand struct {
	Meta_    Meta
	From, To int
}

func NewReorderLayers(label string, from, to int) *ReorderLayersCommand {
	return &ReorderLayersCommand{Meta_: Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now(), Coalescable: true, MergeKey: "reorder"}, From: from, To: to}
}

func (c *ReorderLayersCommand) CommandMeta() Meta { return c.Meta_ }
func (c *ReorderLayersCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return ReorderLayer(s, c.From, c.To)
}
func (c *ReorderLayersCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewReorderLayers("undo "+c.Meta_.Label, c.To, c.From), nil
}
func (c *ReorderLayersCommand) EstimateSize() int { return fallbackSize(c.Meta_) }
func (c *ReorderLayersCommand) CanCoalesceWith(prior Command) bool {
	p, ok := prior.(*ReorderLayersCommand)
	return ok && p.Meta_.MergeKey == c.Meta_.MergeKey
}
func (c *ReorderLayersCommand) CoalesceWith(prior Command) Command {
	p := prior.(*ReorderLayersCommand)
	return NewReorderLayers(c.Meta_.Label, p.From, c.To)
}

// --- UpdateLayer ---

type UpdateLayerCommand struct {
	Meta_ Meta
	ID    LayerID
	Patch LayerPatch
}

func NewUpdateLayer(label string, id LayerID, patch LayerPatch) *UpdateLayerCommand {
	return &UpdateLayerCommand{Meta_: Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now()}, ID: id, Patch: patch}
}

func (c *UpdateLayerCommand) CommandMeta() Meta { return c.Meta_ }
func (c *UpdateLayerCommand) Apply(s CanonicalState) (CanonicalState, error) {
	next, _, _, err := UpdateLayer(s, c.ID, c.Patch)
	return next, err
}
func (c *UpdateLayerCommand) Invert(prev, next CanonicalState) (Command, error) {
	_, _, prevApplied, err := UpdateLayer(prev, c.ID, c.Patch)
	if err != nil {
		return nil, err
	}
	return NewUpdateLayer("undo "+c.Meta_.Label, c.ID, prevApplied), nil
}
func (c *UpdateLayerCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- SetSelection ---

type SetSelectionCommand struct {
	Meta_ Meta
	IDs   Selection
}

func NewSetSelection(ids Selection) *SetSelectionCommand {
	return &SetSelectionCommand{Meta_: Meta{Label: "Select", Scope: ScopeCanvas, Timestamp: time.Now()}, IDs: ids}
}

func (c *SetSelectionCommand) CommandMeta() Meta { return c.Meta_ }
func (c *SetSelectionCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return SetSelection(s, c.IDs)
}
func (c *SetSelectionCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewSetSelection(prev.Selection), nil
}
func (c *SetSelectionCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- SetViewport ---

type SetViewportCommand struct {
	Meta_ Meta
	Patch ViewportPatch
}

func NewSetViewport(label string, patch ViewportPatch) *SetViewportCommand {
	return &SetViewportCommand{Meta_: Meta{Label: label, Scope: ScopeCanvas, Timestamp: time.Now(), Coalescable: true, MergeKey: "viewport"}, Patch: patch}
}

func (c *SetViewportCommand) CommandMeta() Meta { return c.Meta_ }
func (c *SetViewportCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return SetViewport(s, c.Patch)
}
func (c *SetViewportCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewSetViewport("undo "+c.Meta_.Label, prev.Viewport.Diff(c.Patch, prev.Viewport)), nil
}
func (c *SetViewportCommand) EstimateSize() int { return fallbackSize(c.Meta_) }
func (c *SetViewportCommand) CanCoalesceWith(prior Command) bool {
	p, ok := prior.(*SetViewportCommand)
	return ok && p.Meta_.MergeKey == c.Meta_.MergeKey
}
func (c *SetViewportCommand) CoalesceWith(prior Command) Command {
	p := prior.(*SetViewportCommand)
	return NewSetViewport(c.Meta_.Label, mergeViewportPatch(p.Patch, c.Patch))
}

// mergeViewportPatch layers patch b over a, so fields b leaves untouched
// keep a's value rather than being dropped: coalescing replaces the last
// command with last.coalesceWith(new), not new alone.
func mergeViewportPatch(a, b ViewportPatch) ViewportPatch {
	out := a
	if b.Zoom != nil {
		out.Zoom = b.Zoom
	}
	if b.PanX != nil {
		out.PanX = b.PanX
	}
	if b.PanY != nil {
		out.PanY = b.PanY
	}
	if b.Rotation != nil {
		out.Rotation = b.Rotation
	}
	if b.Snapping != nil {
		out.Snapping = b.Snapping
	}
	if b.Guides != nil {
		out.Guides = b.Guides
	}
	return out
}

// --- SetActiveTool ---

type SetActiveToolCommand struct {
	Meta_  Meta
	Active ActiveTool
}

// NewSetActiveTool returns a non-undoable-by-default active-tool command.
func NewSetActiveTool(active ActiveTool) *SetActiveToolCommand {
	return &SetActiveToolCommand{Meta_: Meta{Label: "Select tool", Scope: ScopeTool, Timestamp: time.Now(), NonUndoable: true}, Active: active}
}

func (c *SetActiveToolCommand) CommandMeta() Meta { return c.Meta_ }
func (c *SetActiveToolCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return SetActiveTool(s, c.Active)
}
func (c *SetActiveToolCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewSetActiveTool(prev.ActiveTool), nil
}
func (c *SetActiveToolCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- AddAdjustmentLayer ---

type AddAdjustmentLayerCommand struct {
	Meta_     Meta
	Kind      AdjustmentKind
	Params    ParamMap
	Pos       LayerPosition
	CreatedID LayerID // resolved at construction time so Apply stays pure
}

// NewAddAdjustmentLayer mints a fresh layer id via uuid when id is empty, at
// construction time, so repeated Apply calls on the same command instance
// are idempotent.
func NewAddAdjustmentLayer(label string, kind AdjustmentKind, params ParamMap, pos LayerPosition, id LayerID) *AddAdjustmentLayerCommand {
	if id == "" {
		id = LayerID(newID())
	}
	return &AddAdjustmentLayerCommand{
		Meta_:     Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now()},
		Kind:      kind,
		Params:    params,
		Pos:       pos,
		CreatedID: id,
	}
}

func (c *AddAdjustmentLayerCommand) CommandMeta() Meta { return c.Meta_ }
func (c *AddAdjustmentLayerCommand) Apply(s CanonicalState) (CanonicalState, error) {
	layer := Layer{
		ID:             c.CreatedID,
		Name:           string(c.Kind),
		Type:           LayerAdjustment,
		Visible:        true,
		Opacity:        100,
		Blend:          BlendNormal,
		AdjustmentKind: c.Kind,
		Parameters:     c.Params.Clone(),
	}
	return AddLayer(s, layer, c.Pos)
}
func (c *AddAdjustmentLayerCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewRemoveLayer("undo "+c.Meta_.Label, c.CreatedID), nil
}
func (c *AddAdjustmentLayerCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- UpdateAdjustmentParameters ---

type UpdateAdjustmentParametersCommand struct {
	Meta_  Meta
	ID     LayerID
	Params ParamMap
}

func NewUpdateAdjustmentParameters(label string, id LayerID, params ParamMap) *UpdateAdjustmentParametersCommand {
	return &UpdateAdjustmentParametersCommand{
		Meta_:  Meta{Label: label, Scope: ScopeLayers, Timestamp: time.Now(), Coalescable: true, MergeKey: "adjustment:" + string(id)},
		ID:     id,
		Params: params,
	}
}

func (c *UpdateAdjustmentParametersCommand) CommandMeta() Meta { return c.Meta_ }
func (c *UpdateAdjustmentParametersCommand) Apply(s CanonicalState) (CanonicalState, error) {
	next, _, _, err := UpdateLayer(s, c.ID, LayerPatch{Parameters: c.Params})
	return next, err
}
func (c *UpdateAdjustmentParametersCommand) Invert(prev, next CanonicalState) (Command, error) {
	_, _, prevApplied, err := UpdateLayer(prev, c.ID, LayerPatch{Parameters: c.Params})
	if err != nil {
		return nil, err
	}
	return NewUpdateAdjustmentParameters("undo "+c.Meta_.Label, c.ID, prevApplied.Parameters), nil
}
func (c *UpdateAdjustmentParametersCommand) EstimateSize() int { return fallbackSize(c.Meta_) }
func (c *UpdateAdjustmentParametersCommand) CanCoalesceWith(prior Command) bool {
	p, ok := prior.(*UpdateAdjustmentParametersCommand)
	return ok && p.Meta_.MergeKey == c.Meta_.MergeKey
}
func (c *UpdateAdjustmentParametersCommand) CoalesceWith(prior Command) Command {
	p := prior.(*UpdateAdjustmentParametersCommand)
	return NewUpdateAdjustmentParameters(c.Meta_.Label, c.ID, mergeParams(p.Params, c.Params))
}

// --- DocumentRotate ---

type DocumentRotateCommand struct {
	Meta_    Meta
	DeltaDeg float64
	Limits   Limits
}

func NewDocumentRotate(deltaDeg float64, limits Limits) *DocumentRotateCommand {
	return &DocumentRotateCommand{Meta_: Meta{Label: "Rotate document", Scope: ScopeDocument, Timestamp: time.Now()}, DeltaDeg: deltaDeg, Limits: limits}
}

func (c *DocumentRotateCommand) CommandMeta() Meta { return c.Meta_ }
func (c *DocumentRotateCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return ApplyDocumentRotate(s, c.DeltaDeg, c.Limits)
}
func (c *DocumentRotateCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewDocumentRotate(-c.DeltaDeg, c.Limits), nil
}
func (c *DocumentRotateCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- DocumentFlip ---

type DocumentFlipCommand struct {
	Meta_  Meta
	Params DocumentFlipParams
	Limits Limits
}

func NewDocumentFlip(params DocumentFlipParams, limits Limits) *DocumentFlipCommand {
	return &DocumentFlipCommand{Meta_: Meta{Label: "Flip document", Scope: ScopeDocument, Timestamp: time.Now()}, Params: params, Limits: limits}
}

func (c *DocumentFlipCommand) CommandMeta() Meta { return c.Meta_ }
func (c *DocumentFlipCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return ApplyDocumentFlip(s, c.Params, c.Limits)
}
func (c *DocumentFlipCommand) Invert(prev, next CanonicalState) (Command, error) {
	// Flip is self-inverse.
	return NewDocumentFlip(c.Params, c.Limits), nil
}
func (c *DocumentFlipCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- DocumentDimensions ---

type DocumentDimensionsCommand struct {
	Meta_    Meta
	Next     DocumentDimensionsParams
	Previous DocumentDimensionsParams
	Limits   Limits
}

func NewDocumentDimensions(next, previous DocumentDimensionsParams, limits Limits) *DocumentDimensionsCommand {
	return &DocumentDimensionsCommand{Meta_: Meta{Label: "Resize document", Scope: ScopeDocument, Timestamp: time.Now()}, Next: next, Previous: previous, Limits: limits}
}

func (c *DocumentDimensionsCommand) CommandMeta() Meta { return c.Meta_ }
func (c *DocumentDimensionsCommand) Apply(s CanonicalState) (CanonicalState, error) {
	return ApplyDocumentDimensions(s, c.Next, c.Limits)
}
func (c *DocumentDimensionsCommand) Invert(prev, next CanonicalState) (Command, error) {
	return NewDocumentDimensions(c.Previous, c.Next, c.Limits), nil
}
func (c *DocumentDimensionsCommand) EstimateSize() int { return fallbackSize(c.Meta_) }

// --- Composite ---

// CompositeCommand wraps an ordered list of commands as a single unit.
// Apply folds left over the list; Invert replays forward to collect each
// child's (prev, next) pair, then inverts each child against its matching
// pair in reverse order. Composite never coalesces.
type CompositeCommand struct {
	Meta_    Meta
	Children []Command
}

func NewComposite(label string, children []Command) *CompositeCommand {
	return &CompositeCommand{Meta_: Meta{Label: label, Scope: ScopeGlobal, Timestamp: time.Now()}, Children: children}
}

func (c *CompositeCommand) CommandMeta() Meta { return c.Meta_ }

func (c *CompositeCommand) Apply(s CanonicalState) (CanonicalState, error) {
	cur := s
	for _, child := range c.Children {
		next, err := child.Apply(cur)
		if err != nil {
			return s, err
		}
		cur = next
	}
	return cur, nil
}

func (c *CompositeCommand) Invert(prev, next CanonicalState) (Command, error) {
	// Replay forward to collect each child's (prev, next) state pair.
	states := make([]CanonicalState, len(c.Children)+1)
	states[0] = prev
	for i, child := range c.Children {
		n, err := child.Apply(states[i])
		if err != nil {
			return nil, err
		}
		states[i+1] = n
	}
	inverted := make([]Command, len(c.Children))
	for i := len(c.Children) - 1; i >= 0; i-- {
		inv, err := c.Children[i].Invert(states[i], states[i+1])
		if err != nil {
			return nil, err
		}
		inverted[len(c.Children)-1-i] = inv
	}
	return NewComposite("undo "+c.Meta_.Label, inverted), nil
}

func (c *CompositeCommand) EstimateSize() int {
	total := 0
	for _, child := range c.Children {
		total += child.EstimateSize()
	}
	return total
}
