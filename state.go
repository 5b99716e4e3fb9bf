package editor

// Float, Bool, and Str are small convenience constructors for optional
// LayerPatch/ViewportPatch fields, so callers can write
// LayerPatch{Opacity: editor.Float(50)} instead of declaring a local.
func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool        { return &v }
func Str(v string) *string     { return &v }

// Selection is the set of selected layer ids.
type Selection map[LayerID]struct{}

// NewSelection returns a Selection containing ids.
func NewSelection(ids ...LayerID) Selection {
	s := make(Selection, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Clone returns a copy.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the selected ids in unspecified order.
func (s Selection) IDs() []LayerID {
	out := make([]LayerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Viewport is the canvas camera: zoom, pan, rotation, and editing aids.
type Viewport struct {
	Zoom     float64 // percent, [5, 800]
	PanX     float64
	PanY     float64
	Rotation float64 // degrees, [0, 360)
	Snapping bool
	Guides   bool
}

// DefaultViewport returns the viewport's default values.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 100, Snapping: true, Guides: true}
}

// ViewportPatch is a partial update to Viewport; nil fields are left
// unchanged.
type ViewportPatch struct {
	Zoom     *float64
	PanX     *float64
	PanY     *float64
	Rotation *float64
	Snapping *bool
	Guides   *bool
}

// Apply returns a copy of v with patch's non-nil fields applied.
func (v Viewport) Apply(patch ViewportPatch) Viewport {
	out := v
	if patch.Zoom != nil {
		out.Zoom = *patch.Zoom
	}
	if patch.PanX != nil {
		out.PanX = *patch.PanX
	}
	if patch.PanY != nil {
		out.PanY = *patch.PanY
	}
	if patch.Rotation != nil {
		out.Rotation = *patch.Rotation
	}
	if patch.Snapping != nil {
		out.Snapping = *patch.Snapping
	}
	if patch.Guides != nil {
		out.Guides = *patch.Guides
	}
	return out
}

// Diff returns the patch that, applied to v, reproduces prev. Used by
// SetViewport's inverse to capture only the fields the forward patch
// touched.
func (v Viewport) Diff(patch ViewportPatch, prev Viewport) ViewportPatch {
	var out ViewportPatch
	if patch.Zoom != nil {
		out.Zoom = Float(prev.Zoom)
	}
	if patch.PanX != nil {
		out.PanX = Float(prev.PanX)
	}
	if patch.PanY != nil {
		out.PanY = Float(prev.PanY)
	}
	if patch.Rotation != nil {
		out.Rotation = Float(prev.Rotation)
	}
	if patch.Snapping != nil {
		out.Snapping = Bool(prev.Snapping)
	}
	if patch.Guides != nil {
		out.Guides = Bool(prev.Guides)
	}
	return out
}

// Sidebar and Tool are closed enums identifying the active tool.
type Sidebar string
type Tool string

// ActiveTool is the (sidebar, tool) pair currently selected in the UI.
type ActiveTool struct {
	Sidebar Sidebar
	Tool    Tool
}

// Timeline is the animation transport's canonical (non-ephemeral) state.
type Timeline struct {
	Duration     float64 // > 0
	FPS          float64 // > 0
	PlayheadTime float64 // [0, Duration]
	Scrubbing    bool
}

// DefaultTimeline returns a 10-second, 30fps timeline at rest.
func DefaultTimeline() Timeline {
	return Timeline{Duration: 10, FPS: 30}
}

// CanonicalState is the complete versioned state: everything the History
// Engine records, replays, and persists. Ephemeral UI state (drag, hover,
// marquee, preview overlays, the open transaction frame) is held outside
// CanonicalState and never participates in history.
type CanonicalState struct {
	Document   Document
	Layers     Layers
	Selection  Selection
	Viewport   Viewport
	ActiveTool ActiveTool
	Timeline   Timeline
}

// InitialState returns a fresh document of the given size with a single
// document layer and no image layers.
func InitialState(width, height int) CanonicalState {
	layers := NewLayers()
	layers.ByID["document"] = Layer{
		ID:      "document",
		Name:    "Document",
		Type:    LayerDocument,
		Visible: true,
		Opacity: 100,
		Blend:   BlendNormal,
		Filters: ParamMap{},
	}
	layers.Order = []LayerID{"document"}
	return CanonicalState{
		Document:   NewDocument(width, height),
		Layers:     layers,
		Selection:  NewSelection(),
		Viewport:   DefaultViewport(),
		ActiveTool: ActiveTool{},
		Timeline:   DefaultTimeline(),
	}
}

// Clone returns a deep copy of the state.
func (s CanonicalState) Clone() CanonicalState {
	return CanonicalState{
		Document:   s.Document.Clone(),
		Layers:     s.Layers.Clone(),
		Selection:  s.Selection.Clone(),
		Viewport:   s.Viewport,
		ActiveTool: s.ActiveTool,
		Timeline:   s.Timeline,
	}
}

// --- Document model operations ---

// AddLayer returns a copy of s with layer inserted at pos.
func AddLayer(s CanonicalState, layer Layer, pos LayerPosition) (CanonicalState, error) {
	out := s.Clone()
	if _, exists := out.Layers.ByID[layer.ID]; exists {
		return s, &InvariantError{Rule: "layer id already exists"}
	}
	out.Layers.ByID[layer.ID] = layer.Clone()
	out.Layers.insert(layer.ID, pos)
	return out, assertInvariants(out)
}

// RemoveLayer returns a copy of s with id removed. The removed layer and
// its former index are returned so the caller (typically a Command.invert)
// can reconstruct an inverse AddLayer.
func RemoveLayer(s CanonicalState, id LayerID) (next CanonicalState, removed Layer, index int, err error) {
	out := s.Clone()
	l, ok := out.Layers.ByID[id]
	if !ok {
		return s, Layer{}, -1, &InvariantError{Rule: "remove: layer not found"}
	}
	index, _ = out.Layers.removeFromOrder(id)
	delete(out.Layers.ByID, id)
	delete(out.Selection, id)
	if err := assertInvariants(out); err != nil {
		return s, Layer{}, -1, err
	}
	return out, l, index, nil
}

// ReorderLayer moves the layer at order-index from to index to.
func ReorderLayer(s CanonicalState, from, to int) (CanonicalState, error) {
	out := s.Clone()
	n := len(out.Layers.Order)
	if from < 0 || from >= n || to < 0 || to >= n {
		return s, &InvariantError{Rule: "reorder: index out of range"}
	}
	id := out.Layers.Order[from]
	out.Layers.Order = append(out.Layers.Order[:from], out.Layers.Order[from+1:]...)
	tmp := make([]LayerID, 0, n)
	tmp = append(tmp, out.Layers.Order[:to]...)
	tmp = append(tmp, id)
	tmp = append(tmp, out.Layers.Order[to:]...)
	out.Layers.Order = tmp
	return out, assertInvariants(out)
}

// LayerPatch is a partial update to a layer. updateLayer applies only the
// fields valid for the existing layer's variant; patches to foreign fields
// are rejected silently.
type LayerPatch struct {
	Name     *string
	Visible  *bool
	Locked   *bool
	Opacity  *float64
	Blend    *BlendMode
	ParentID *LayerID

	// Image
	Image   *ImageHandle
	IsEmpty *bool
	Filters ParamMap // merged key-by-key, not replaced wholesale

	// Adjustment
	Parameters ParamMap // merged key-by-key

	// Solid
	Color *RGBA

	// Mask
	Enabled  *bool
	Inverted *bool
	RasterID *string

	// Group
	Collapsed *bool
}

// UpdateLayer applies patch to the layer named id, dropping any field that
// does not belong to the layer's existing variant. Returns the new state,
// the applied subset, and the prior values of those same fields
// (prevApplied, which Command.invert uses as its before-state capture).
func UpdateLayer(s CanonicalState, id LayerID, patch LayerPatch) (next CanonicalState, applied LayerPatch, prevApplied LayerPatch, err error) {
	out := s.Clone()
	l, ok := out.Layers.ByID[id]
	if !ok {
		return s, LayerPatch{}, LayerPatch{}, &InvariantError{Rule: "update: layer not found"}
	}
	applied, prevApplied = LayerPatch{}, LayerPatch{}

	// Base fields, valid for every variant.
	if patch.Name != nil {
		l.Name, applied.Name, prevApplied.Name = *patch.Name, patch.Name, Str(l.Name)
	}
	if patch.Visible != nil {
		prevApplied.Visible = Bool(l.Visible)
		l.Visible, applied.Visible = *patch.Visible, patch.Visible
	}
	if patch.Locked != nil {
		prevApplied.Locked = Bool(l.Locked)
		l.Locked, applied.Locked = *patch.Locked, patch.Locked
	}
	if patch.Opacity != nil {
		prevApplied.Opacity = Float(l.Opacity)
		l.Opacity, applied.Opacity = *patch.Opacity, patch.Opacity
	}
	if patch.Blend != nil {
		prevBlend := l.Blend
		prevApplied.Blend = &prevBlend
		bm := *patch.Blend
		l.Blend, applied.Blend = bm, &bm
	}
	if patch.ParentID != nil {
		prevApplied.ParentID = l.ParentID
		pid := *patch.ParentID
		l.ParentID, applied.ParentID = &pid, &pid
	}

	// Variant-specific fields: dropped silently when the variant doesn't match.
	switch l.Type {
	case LayerImage:
		if patch.Image != nil {
			prevApplied.Image = l.Image
			img := *patch.Image
			l.Image, applied.Image = &img, &img
		}
		if patch.IsEmpty != nil {
			prevApplied.IsEmpty = Bool(l.IsEmpty)
			l.IsEmpty, applied.IsEmpty = *patch.IsEmpty, patch.IsEmpty
		}
		if patch.Filters != nil {
			prevApplied.Filters = subsetKeys(l.Filters, patch.Filters)
			l.Filters = mergeParams(l.Filters, patch.Filters)
			applied.Filters = patch.Filters.Clone()
		}
	case LayerAdjustment, LayerDocument:
		if patch.Parameters != nil {
			target := l.Parameters
			if l.Type == LayerDocument {
				target = l.Filters
			}
			prev := subsetKeys(target, patch.Parameters)
			merged := mergeParams(target, patch.Parameters)
			if l.Type == LayerDocument {
				l.Filters = merged
			} else {
				l.Parameters = merged
			}
			prevApplied.Parameters = prev
			applied.Parameters = patch.Parameters.Clone()
		}
	case LayerSolid:
		if patch.Color != nil {
			prevColor := l.Color
			prevApplied.Color = &prevColor
			c := *patch.Color
			l.Color, applied.Color = c, &c
		}
	case LayerMask:
		if patch.Enabled != nil {
			prevApplied.Enabled = Bool(l.Enabled)
			l.Enabled, applied.Enabled = *patch.Enabled, patch.Enabled
		}
		if patch.Inverted != nil {
			prevApplied.Inverted = Bool(l.Inverted)
			l.Inverted, applied.Inverted = *patch.Inverted, patch.Inverted
		}
		if patch.RasterID != nil {
			prevApplied.RasterID = Str(l.RasterID)
			l.RasterID, applied.RasterID = *patch.RasterID, patch.RasterID
		}
	case LayerGroup:
		if patch.Collapsed != nil {
			prevApplied.Collapsed = Bool(l.Collapsed)
			l.Collapsed, applied.Collapsed = *patch.Collapsed, patch.Collapsed
		}
	}

	out.Layers.ByID[id] = l
	if err := assertInvariants(out); err != nil {
		return s, LayerPatch{}, LayerPatch{}, err
	}
	return out, applied, prevApplied, nil
}

func mergeParams(base, patch ParamMap) ParamMap {
	out := base.Clone()
	if out == nil {
		out = ParamMap{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func subsetKeys(m ParamMap, keys ParamMap) ParamMap {
	out := make(ParamMap, len(keys))
	for k := range keys {
		out[k] = m[k]
	}
	return out
}

// SetSelection returns a copy of s with the selection replaced.
func SetSelection(s CanonicalState, ids Selection) (CanonicalState, error) {
	out := s.Clone()
	out.Selection = ids.Clone()
	return out, assertInvariants(out)
}

// SetViewport returns a copy of s with patch applied to the viewport.
func SetViewport(s CanonicalState, patch ViewportPatch) (CanonicalState, error) {
	out := s.Clone()
	out.Viewport = out.Viewport.Apply(patch)
	return out, assertInvariants(out)
}

// SetActiveTool returns a copy of s with the active tool replaced.
func SetActiveTool(s CanonicalState, active ActiveTool) (CanonicalState, error) {
	out := s.Clone()
	out.ActiveTool = active
	return out, nil // no invariant touches ActiveTool
}

// assertInvariants validates every structural invariant of the state,
// returning an *InvariantError describing the first violation found.
func assertInvariants(s CanonicalState) error {
	if s.Document.Width <= 0 || s.Document.Height <= 0 {
		return &InvariantError{Rule: "document dimensions must be positive"}
	}
	if !s.Document.Background.Transparent {
		if !channelsInRange(s.Document.Background.Color) {
			return &InvariantError{Rule: "background rgba channels must be in [0,1]"}
		}
	}
	if len(s.Layers.Order) != len(s.Layers.ByID) {
		return &InvariantError{Rule: "order/byId alignment"}
	}
	seen := make(map[LayerID]struct{}, len(s.Layers.Order))
	for _, id := range s.Layers.Order {
		if _, dup := seen[id]; dup {
			return &InvariantError{Rule: "layer ids must be unique"}
		}
		seen[id] = struct{}{}
		if _, ok := s.Layers.ByID[id]; !ok {
			return &InvariantError{Rule: "order/byId alignment"}
		}
	}
	for id, l := range s.Layers.ByID {
		if id != l.ID {
			return &InvariantError{Rule: "layer id key mismatch"}
		}
		if l.Opacity < 0 || l.Opacity > 100 {
			return &InvariantError{Rule: "opacity must be in [0,100]"}
		}
		switch l.Type {
		case LayerImage:
			if l.IsEmpty != (l.Image == nil) {
				return &InvariantError{Rule: "image layer isEmpty must match image presence"}
			}
		case LayerAdjustment:
			if len(l.Parameters) == 0 {
				return &InvariantError{Rule: "adjustment layer needs a non-empty parameters map"}
			}
		case LayerGroup:
			if l.Children == nil {
				return &InvariantError{Rule: "group layer needs an array children"}
			}
		}
	}
	for id := range s.Selection {
		if _, ok := s.Layers.ByID[id]; !ok {
			return &InvariantError{Rule: "selection must be a subset of layer ids"}
		}
	}
	v := s.Viewport
	if v.Zoom < 5 || v.Zoom > 800 {
		return &InvariantError{Rule: "viewport zoom must be in [5,800]"}
	}
	if v.Rotation < 0 || v.Rotation >= 360 {
		return &InvariantError{Rule: "viewport rotation must be in [0,360)"}
	}
	return nil
}

func channelsInRange(c RGBA) bool {
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }
	return inRange(c.R) && inRange(c.G) && inRange(c.B) && inRange(c.A)
}
