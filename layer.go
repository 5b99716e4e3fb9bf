package editor

// LayerID uniquely identifies a layer within a document. The document
// layer always uses the fixed id "document".
type LayerID string

// LayerType discriminates the Layer variants. A single flat struct carries
// every variant's fields side by side (see the field groups below) rather
// than a Go interface hierarchy, so updateLayer can type-switch once. The
// fields carry no JSON tags, so an unused variant's zero values are
// marshaled along with the rest.
type LayerType string

const (
	LayerImage      LayerType = "image"
	LayerAdjustment LayerType = "adjustment"
	LayerSolid      LayerType = "solid"
	LayerDocument   LayerType = "document"
	LayerMask       LayerType = "mask"
	LayerGroup      LayerType = "group"
)

// AdjustmentKind is the closed enum of adjustment-layer behaviors.
type AdjustmentKind string

const (
	AdjustBrightness    AdjustmentKind = "brightness"
	AdjustContrast      AdjustmentKind = "contrast"
	AdjustExposure      AdjustmentKind = "exposure"
	AdjustGamma         AdjustmentKind = "gamma"
	AdjustLevels        AdjustmentKind = "levels"
	AdjustCurves        AdjustmentKind = "curves"
	AdjustHue           AdjustmentKind = "hue"
	AdjustSaturation    AdjustmentKind = "saturation"
	AdjustVibrance      AdjustmentKind = "vibrance"
	AdjustTemperature   AdjustmentKind = "temperature"
	AdjustTint          AdjustmentKind = "tint"
	AdjustColorize      AdjustmentKind = "colorize"
	AdjustGradientMap   AdjustmentKind = "gradient-map"
	AdjustLUT           AdjustmentKind = "lut"
	AdjustSepia         AdjustmentKind = "sepia"
	AdjustGrayscale     AdjustmentKind = "grayscale"
	AdjustInvert        AdjustmentKind = "invert"
	AdjustVintage       AdjustmentKind = "vintage"
	AdjustPosterize     AdjustmentKind = "posterize"
	AdjustThreshold     AdjustmentKind = "threshold"
	AdjustSolarize      AdjustmentKind = "solarize"
	AdjustSplitToning   AdjustmentKind = "split-toning"
	AdjustClarity       AdjustmentKind = "clarity"
	AdjustTexture       AdjustmentKind = "texture"
	AdjustDehaze        AdjustmentKind = "dehaze"
	AdjustUnsharpMask   AdjustmentKind = "unsharp-mask"
	AdjustHighPass      AdjustmentKind = "high-pass"
	AdjustSharpen       AdjustmentKind = "sharpen"
	AdjustGaussian      AdjustmentKind = "gaussian"
	AdjustFilmGrain     AdjustmentKind = "film-grain"
	AdjustAdditiveNoise AdjustmentKind = "additive-noise"
	AdjustNoiseReduce   AdjustmentKind = "noise-reduction"
	AdjustDefringe      AdjustmentKind = "defringe"
	AdjustCACorrection  AdjustmentKind = "ca-correction"
	AdjustVignette      AdjustmentKind = "vignette"
	AdjustSolid         AdjustmentKind = "solid"
)

// BlendMode is the closed set of layer compositing operations. The core
// treats these as opaque tags; only the external renderer interprets them.
type BlendMode string

const (
	BlendNormal   BlendMode = "normal"
	BlendMultiply BlendMode = "multiply"
	BlendScreen   BlendMode = "screen"
	BlendOverlay  BlendMode = "overlay"
	BlendDarken   BlendMode = "darken"
	BlendLighten  BlendMode = "lighten"
	BlendAdd      BlendMode = "add"
)

// ImageHandle is an opaque reference to externally-decoded pixel data
// (e.g. a blob-store key). The core never interprets it.
type ImageHandle string

// RGBA is a color with channels in [0, 1].
type RGBA struct {
	R, G, B, A float64
}

// ParamValue is a document-scope or layer-scope parameter: either a bare
// scalar or a {value, color} pair.
type ParamValue struct {
	Value float64
	Color *RGBA // nil unless this parameter carries a color
}

// ParamMap is a parameter-key to value mapping shared by Document.Parameters,
// Layer.Filters (image layers), and Layer.Parameters (adjustment layers).
type ParamMap map[string]ParamValue

// Clone returns a deep copy so mutators never alias a caller's map.
func (m ParamMap) Clone() ParamMap {
	if m == nil {
		return nil
	}
	out := make(ParamMap, len(m))
	for k, v := range m {
		cp := v
		if v.Color != nil {
			c := *v.Color
			cp.Color = &c
		}
		out[k] = cp
	}
	return out
}

// Layer is the sum type over every layer variant. Base fields are shared by
// all variants; the remaining field groups are populated only for the
// variant named in Type.
type Layer struct {
	// Base (all variants)
	ID       LayerID
	Name     string
	Type     LayerType
	Visible  bool
	Locked   bool
	Opacity  float64 // [0, 100]
	Blend    BlendMode
	ParentID *LayerID // nil for top-level layers

	// Image fields (LayerImage)
	Image   *ImageHandle // nil when IsEmpty
	IsEmpty bool
	Filters ParamMap
	Tracks  map[string]*Track // animatable filter keys -> track

	// Adjustment fields (LayerAdjustment)
	AdjustmentKind AdjustmentKind
	Parameters     ParamMap

	// Solid fields (LayerSolid)
	Color RGBA

	// Document fields (LayerDocument) — the singleton id "document" layer
	// reuses Filters for its parameter map.

	// Mask fields (LayerMask)
	Enabled  bool
	Inverted bool
	RasterID string // opaque raster-data reference

	// Group fields (LayerGroup)
	Children  []LayerID
	Collapsed bool
}

// Clone returns a deep copy of the layer so command before-state capture
// never aliases live engine state.
func (l Layer) Clone() Layer {
	out := l
	if l.Image != nil {
		img := *l.Image
		out.Image = &img
	}
	out.Filters = l.Filters.Clone()
	out.Parameters = l.Parameters.Clone()
	if l.Tracks != nil {
		out.Tracks = make(map[string]*Track, len(l.Tracks))
		for k, t := range l.Tracks {
			tc := t.Clone()
			out.Tracks[k] = &tc
		}
	}
	if l.Children != nil {
		out.Children = append([]LayerID(nil), l.Children...)
	}
	if l.ParentID != nil {
		p := *l.ParentID
		out.ParentID = &p
	}
	return out
}

// Layers is the layer collection. order's head is the top-most layer.
// Invariant: order and byId share the same key set, and every id is unique.
type Layers struct {
	ByID  map[LayerID]Layer
	Order []LayerID
}

// NewLayers returns an empty layer collection.
func NewLayers() Layers {
	return Layers{ByID: map[LayerID]Layer{}}
}

// Clone returns a deep copy of the collection.
func (ls Layers) Clone() Layers {
	out := Layers{
		ByID:  make(map[LayerID]Layer, len(ls.ByID)),
		Order: append([]LayerID(nil), ls.Order...),
	}
	for id, l := range ls.ByID {
		out.ByID[id] = l.Clone()
	}
	return out
}

// Get returns the layer and whether it exists.
func (ls Layers) Get(id LayerID) (Layer, bool) {
	l, ok := ls.ByID[id]
	return l, ok
}

// LayerPosition selects where AddLayer inserts a new layer in Order.
type LayerPosition struct {
	Top    bool
	Bottom bool
	Index  int // used when neither Top nor Bottom is set
}

// Top is the canonical "top" LayerPosition.
func Top() LayerPosition { return LayerPosition{Top: true} }

// Bottom is the canonical "bottom" LayerPosition.
func Bottom() LayerPosition { return LayerPosition{Bottom: true} }

// AtIndex is the canonical index LayerPosition.
func AtIndex(i int) LayerPosition { return LayerPosition{Index: i} }

func (ls *Layers) insert(id LayerID, pos LayerPosition) {
	switch {
	case pos.Top:
		ls.Order = append([]LayerID{id}, ls.Order...)
	case pos.Bottom:
		ls.Order = append(ls.Order, id)
	default:
		i := pos.Index
		if i < 0 {
			i = 0
		}
		if i > len(ls.Order) {
			i = len(ls.Order)
		}
		ls.Order = append(ls.Order, "")
		copy(ls.Order[i+1:], ls.Order[i:])
		ls.Order[i] = id
	}
}

func (ls *Layers) removeFromOrder(id LayerID) (index int, found bool) {
	for i, existing := range ls.Order {
		if existing == id {
			ls.Order = append(ls.Order[:i], ls.Order[i+1:]...)
			return i, true
		}
	}
	return -1, false
}
