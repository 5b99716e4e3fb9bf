package editor

import (
	"math"
	"sort"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Interpolation selects how a Track blends between its surrounding
// keyframes.
type Interpolation string

const (
	InterpLinear     Interpolation = "linear"
	InterpStep       Interpolation = "step"
	InterpBezier     Interpolation = "bezier"
	InterpCatmullRom Interpolation = "catmull-rom"
	InterpSlerp      Interpolation = "slerp"
)

// EasingType is the closed set of per-keyframe easing overrides.
type EasingType string

// EasingBezier is currently the only per-keyframe easing override; it
// supplies a cubic-bezier timing curve for the segment ending at this
// keyframe.
const EasingBezier EasingType = "bezier"

// Easing overrides the segment timing curve for the keyframe it is attached
// to. Cx1/Cy1/Cx2/Cy2 are the two interior control points of a unit cubic
// bezier timing curve (x is normalized segment time, y is normalized
// progress), the same shape as a CSS cubic-bezier() timing function.
type Easing struct {
	Type               EasingType
	Cx1, Cy1, Cx2, Cy2 float64
}

// Keyframe is a single control point on a Track.
type Keyframe struct {
	TimeSec float64
	Value   float64
	Easing  *Easing // nil unless Track.Interpolation == InterpBezier
}

// Track holds one animatable parameter's keyframe series. Keyframes must
// stay sorted ascending by TimeSec; use AddKeyframe to preserve that.
type Track struct {
	Interpolation Interpolation
	Keyframes     []Keyframe
}

// NewTrack returns an empty track with the given interpolation mode.
func NewTrack(mode Interpolation) *Track {
	return &Track{Interpolation: mode}
}

// Clone returns a deep copy.
func (t Track) Clone() Track {
	out := Track{Interpolation: t.Interpolation}
	if t.Keyframes != nil {
		out.Keyframes = make([]Keyframe, len(t.Keyframes))
		for i, kf := range t.Keyframes {
			cp := kf
			if kf.Easing != nil {
				e := *kf.Easing
				cp.Easing = &e
			}
			out.Keyframes[i] = cp
		}
	}
	return out
}

// AddKeyframe inserts kf in sorted order by TimeSec, replacing any existing
// keyframe at the same time.
func (t *Track) AddKeyframe(kf Keyframe) {
	i := sort.Search(len(t.Keyframes), func(i int) bool { return t.Keyframes[i].TimeSec >= kf.TimeSec })
	if i < len(t.Keyframes) && t.Keyframes[i].TimeSec == kf.TimeSec {
		t.Keyframes[i] = kf
		return
	}
	t.Keyframes = append(t.Keyframes, Keyframe{})
	copy(t.Keyframes[i+1:], t.Keyframes[i:])
	t.Keyframes[i] = kf
}

// Sample evaluates the track at time t, falling back to def when the track
// is nil or has no keyframes, so sampling is defined for every animatable
// key.
// Sample is a pure function of (track, t, def): it never mutates the track
// and never depends on a previous call.
func Sample(track *Track, t float64, def float64) float64 {
	if track == nil || len(track.Keyframes) == 0 {
		return def
	}
	kfs := track.Keyframes
	if t <= kfs[0].TimeSec {
		return kfs[0].Value
	}
	last := len(kfs) - 1
	if t >= kfs[last].TimeSec {
		return kfs[last].Value
	}

	i := sort.Search(len(kfs), func(i int) bool { return kfs[i].TimeSec > t }) - 1
	a, b := kfs[i], kfs[i+1]
	dur := b.TimeSec - a.TimeSec
	if dur <= 0 {
		return b.Value
	}
	local := t - a.TimeSec

	switch track.Interpolation {
	case InterpStep:
		return a.Value
	case InterpBezier:
		return sampleBezier(a, b, local, dur)
	case InterpCatmullRom:
		return sampleCatmullRom(kfs, i, local, dur)
	case InterpSlerp:
		return sampleSlerp(a.Value, b.Value, local, dur)
	default: // InterpLinear and unrecognized modes fall back to linear
		tw := gween.New(float32(a.Value), float32(b.Value), float32(dur), ease.Linear)
		val, _ := tw.Update(float32(local))
		return float64(val)
	}
}

// sampleBezier remaps local/dur through the ending keyframe's cubic-bezier
// timing curve (or falls back to linear timing when no override is set)
// before handing the value interpolation to gween.
func sampleBezier(a, b Keyframe, local, dur float64) float64 {
	fn := ease.Linear
	if b.Easing != nil && b.Easing.Type == EasingBezier {
		fn = cubicBezierTween(*b.Easing)
	}
	tw := gween.New(float32(a.Value), float32(b.Value), float32(dur), fn)
	val, _ := tw.Update(float32(local))
	return float64(val)
}

// cubicBezierTween adapts a CSS-style cubic-bezier(cx1,cy1,cx2,cy2) timing
// curve into a gween ease.TweenFunc (t, begin, change, duration) -> value.
func cubicBezierTween(e Easing) ease.TweenFunc {
	return func(t, begin, change, duration float32) float32 {
		if duration == 0 {
			return begin + change
		}
		progress := solveCubicBezierY(float64(e.Cx1), float64(e.Cy1), float64(e.Cx2), float64(e.Cy2), float64(t/duration))
		return begin + change*float32(progress)
	}
}

// solveCubicBezierY returns the bezier curve's y for the given normalized x
// in [0,1], solving for the parametric t via bisection (the curve need not
// be a function of x in closed form once control points overshoot [0,1]).
func solveCubicBezierY(cx1, cy1, cx2, cy2, x float64) float64 {
	bez := func(t, p0, p1, p2, p3 float64) float64 {
		u := 1 - t
		return u*u*u*p0 + 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t*p3
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < 30; i++ {
		mid := (lo + hi) / 2
		if bez(mid, 0, cx1, cx2, 1) < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	t := (lo + hi) / 2
	return bez(t, 0, cy1, cy2, 1)
}

// sampleCatmullRom runs a Catmull-Rom spline through the keyframe at i and
// i+1, using the neighbors on either side when present and clamping at the
// track's ends.
func sampleCatmullRom(kfs []Keyframe, i int, local, dur float64) float64 {
	p0, p1, p2, p3 := kfs[i].Value, kfs[i].Value, kfs[i+1].Value, kfs[i+1].Value
	if i > 0 {
		p0 = kfs[i-1].Value
	}
	if i+2 < len(kfs) {
		p3 = kfs[i+2].Value
	}
	t := local / dur
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// sampleSlerp interpolates along the shortest angular path, treating values
// as degrees. Used for rotation-like parameters where wraparound at 360 must
// take the shorter direction rather than linearly crossing the seam.
func sampleSlerp(a, b, local, dur float64) float64 {
	delta := math.Mod(b-a+540, 360) - 180
	return a + delta*(local/dur)
}
