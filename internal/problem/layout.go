package problem

// Grouped maps group names to their slice of the decision vector. Groups of
// length one hold a float64, longer groups a []float64.
type Grouped map[string]any

// Span is a half-open index range [Start, End) over the flat vector.
type Span struct {
	Start int
	End   int
}

// Len returns the number of variables in the span.
func (s Span) Len() int { return s.End - s.Start }

// Layout assigns every group a contiguous span, in declaration order.
type Layout struct {
	names []string
	spans map[string]Span
	size  int
}

// NewLayout lays out groups back to back starting at index 0.
func NewLayout(groups []Group) Layout {
	l := Layout{spans: make(map[string]Span, len(groups))}
	k := 0
	for _, g := range groups {
		l.names = append(l.names, g.Name)
		l.spans[g.Name] = Span{Start: k, End: k + g.Size}
		k += g.Size
	}
	l.size = k
	return l
}

// Names returns the group names in layout order.
func (l Layout) Names() []string { return append([]string(nil), l.names...) }

// Span looks up a group by name.
func (l Layout) Span(name string) (Span, bool) {
	s, ok := l.spans[name]
	return s, ok
}

// Size is the length of the flat vector covered by the layout.
func (l Layout) Size() int { return l.size }

// Group reassembles a flat vector into named groups. The returned slices are
// copies; the caller may keep x.
func (l Layout) Group(x []float64) Grouped {
	g := make(Grouped, len(l.names))
	for _, name := range l.names {
		s := l.spans[name]
		if s.Len() == 1 {
			g[name] = x[s.Start]
			continue
		}
		g[name] = append([]float64(nil), x[s.Start:s.End]...)
	}
	return g
}
