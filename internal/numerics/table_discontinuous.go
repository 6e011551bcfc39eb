package numerics

import "math"

// TableDiscontinuous is a piecewise-linear function whose adjacent
// segments need not connect at a common y (it is still a function: every
// x maps to exactly one y). At a discontinuity the convention
// xlo < x <= xhi assigns the junction to the lower-indexed segment,
// which yields the lowest inflow that produces a required outflow when
// the table is used to propagate orders through loss nodes.
//
// A sticky hint remembers the segment that served the last lookup, since
// consecutive timesteps tend to stay in the same segment.
type TableDiscontinuous struct {
	segs          []segment
	xMin          float64
	xMax          float64
	draftSeg      *segment
	xMaxInclDraft float64
	iHint         int
}

type segment struct {
	xlo, ylo float64
	xhi, yhi float64
	m, c     float64
}

// NewTableDiscontinuous creates an empty table.
func NewTableDiscontinuous() *TableDiscontinuous {
	return &TableDiscontinuous{
		xMin: math.NaN(),
		xMax: math.NaN(),
	}
}

// AddPoint appends a point to the table. Repeating the x of the previous
// point opens a discontinuous segment starting at a different y;
// otherwise a new segment is created from the previous endpoint.
func (t *TableDiscontinuous) AddPoint(x, y float64) {
	if (len(t.segs) == 0 && t.draftSeg == nil) || x == t.xMaxInclDraft {
		// Set the new segment aside as a draft. This may replace an
		// existing draft if the same x was submitted more than once.
		t.draftSeg = &segment{xlo: x, ylo: y}
		t.xMaxInclDraft = x
		return
	}

	var seg segment
	if t.draftSeg != nil {
		// The new point finalises the existing draft segment.
		seg = *t.draftSeg
		seg.xhi = x
		seg.yhi = y
		t.draftSeg = nil
	} else {
		// The new point creates a whole new segment.
		last := t.segs[len(t.segs)-1]
		seg = segment{xlo: last.xhi, ylo: last.yhi, xhi: x, yhi: y}
	}
	seg.m = (seg.yhi - seg.ylo) / (seg.xhi - seg.xlo)
	seg.c = seg.ylo - seg.m*seg.xlo
	t.segs = append(t.segs, seg)

	t.xMin = t.segs[0].xlo
	t.xMax = t.segs[len(t.segs)-1].xhi
	t.xMaxInclDraft = x
}

// IsUnfinished reports whether an open draft segment remains.
func (t *TableDiscontinuous) IsUnfinished() bool {
	return t.draftSeg != nil
}

// CapIfUnfinished closes any open draft segment. Technically an open
// tail means y(x>x_max) should extrapolate to infinity; in practice,
// e.g. when mapping outflow to inflow through a total-loss reach, the
// function is capped at its maximum value instead.
func (t *TableDiscontinuous) CapIfUnfinished() {
	if t.draftSeg == nil {
		return
	}
	if len(t.segs) > 0 {
		// Finalise the draft as a flat segment at the draft's y.
		draft := *t.draftSeg
		last := t.segs[len(t.segs)-1]
		t.AddPoint(draft.xlo+(last.xhi-last.xlo), draft.ylo)
	} else {
		t.draftSeg = nil
		t.AddPoint(0, 0)
		t.AddPoint(1, 0)
	}
}

// NSegs returns the number of finalised segments.
func (t *TableDiscontinuous) NSegs() int {
	return len(t.segs)
}

// interpolateSegment evaluates segment i without bounds checks, so it
// also serves extrapolation outside the range.
func (t *TableDiscontinuous) interpolateSegment(i int, x float64) float64 {
	return t.segs[i].m*x + t.segs[i].c
}

// findSegForInterpolationOrExtrapolation finds i such that
// segs[i].xlo < x <= segs[i].xhi, clamping to the first or last segment
// outside the range.
func (t *TableDiscontinuous) findSegForInterpolationOrExtrapolation(x float64) int {
	if x < t.xMin {
		return 0
	}
	if x > t.xMax {
		return len(t.segs) - 1
	}

	// Use the hint to either return immediately or narrow the search.
	hint := t.iHint
	var lo, hi int
	switch {
	case x > t.segs[hint].xhi:
		lo, hi = hint+1, len(t.segs)-1
	case x > t.segs[hint].xlo:
		return hint
	default:
		lo = 0
		if hint > 0 {
			hi = hint - 1
		}
	}

	for lo < hi {
		mid := lo + (hi-lo)/2
		if t.segs[mid].xhi < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	t.iHint = lo
	return lo
}

// InterpolateOrExtrapolate evaluates the function at x.
func (t *TableDiscontinuous) InterpolateOrExtrapolate(x float64) float64 {
	return t.interpolateSegment(t.findSegForInterpolationOrExtrapolation(x), x)
}

// Clone returns a deep copy of the table.
func (t *TableDiscontinuous) Clone() *TableDiscontinuous {
	clone := *t
	clone.segs = append([]segment(nil), t.segs...)
	if t.draftSeg != nil {
		draft := *t.draftSeg
		clone.draftSeg = &draft
	}
	return &clone
}
