package channel

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector picks channels by position: single indices, start:stop:step
// ranges with slice semantics, or a union of both. Negative indices count
// from the end.
type Selector struct {
	parts []selectorPart
}

type selectorPart struct {
	index            int
	isRange          bool
	start, stop      int
	hasStart, hasEnd bool
	step             int
}

// Index selects a single position.
func Index(i int) Selector {
	return Selector{parts: []selectorPart{{index: i}}}
}

// Range selects [start, stop) with the given step. A step of 0 means 1.
func Range(start, stop, step int) Selector {
	if step == 0 {
		step = 1
	}
	return Selector{parts: []selectorPart{{isRange: true, start: start, stop: stop, hasStart: true, hasEnd: true, step: step}}}
}

// All selects every channel.
func All() Selector {
	return Selector{parts: []selectorPart{{isRange: true, step: 1}}}
}

// Union concatenates selectors; the first occurrence of a position wins.
func Union(sels ...Selector) Selector {
	var out Selector
	for _, s := range sels {
		out.parts = append(out.parts, s.parts...)
	}
	return out
}

// ParseSelector parses a comma-separated list of indices and
// start:stop[:step] ranges, e.g. "1, 2, 4:10:2" or "-1" or "::-1". An
// empty expression selects every channel.
func ParseSelector(expr string) (Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All(), nil
	}
	var sel Selector
	for raw := range strings.SplitSeq(expr, ",") {
		term := strings.TrimSpace(raw)
		if term == "" {
			return Selector{}, selectorError(expr, "empty term")
		}
		if !strings.Contains(term, ":") {
			i, err := strconv.Atoi(term)
			if err != nil {
				return Selector{}, selectorError(expr, "index %q", term)
			}
			sel.parts = append(sel.parts, selectorPart{index: i})
			continue
		}
		fields := strings.Split(term, ":")
		if len(fields) > 3 {
			return Selector{}, selectorError(expr, "range %q has too many fields", term)
		}
		p := selectorPart{isRange: true, step: 1}
		var err error
		if p.start, p.hasStart, err = optionalInt(fields[0]); err != nil {
			return Selector{}, selectorError(expr, "range start %q", fields[0])
		}
		if p.stop, p.hasEnd, err = optionalInt(fields[1]); err != nil {
			return Selector{}, selectorError(expr, "range stop %q", fields[1])
		}
		if len(fields) == 3 {
			step, ok, err := optionalInt(fields[2])
			if err != nil {
				return Selector{}, selectorError(expr, "range step %q", fields[2])
			}
			if ok {
				if step == 0 {
					return Selector{}, selectorError(expr, "range step cannot be zero")
				}
				p.step = step
			}
		}
		sel.parts = append(sel.parts, p)
	}
	return sel, nil
}

func optionalInt(s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(s)
	return v, true, err
}

func selectorError(expr, format string, args ...any) error {
	return modelError(ErrInvalidSelector, "select", "%q: %s", expr, fmt.Sprintf(format, args...))
}

// String renders the selector in the syntax accepted by ParseSelector.
func (s Selector) String() string {
	terms := make([]string, 0, len(s.parts))
	for _, p := range s.parts {
		if !p.isRange {
			terms = append(terms, strconv.Itoa(p.index))
			continue
		}
		var b strings.Builder
		if p.hasStart {
			b.WriteString(strconv.Itoa(p.start))
		}
		b.WriteByte(':')
		if p.hasEnd {
			b.WriteString(strconv.Itoa(p.stop))
		}
		if p.step != 1 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(p.step))
		}
		terms = append(terms, b.String())
	}
	return strings.Join(terms, ", ")
}

// Resolve returns the selected positions for a set of n channels in
// selection order without duplicates. Ranges clamp to the set; a single
// index outside it reports ErrIndexOutOfRange.
func (s Selector) Resolve(n int) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, p := range s.parts {
		if !p.isRange {
			i := p.index
			if i < 0 {
				i += n
			}
			if i < 0 || i >= n {
				return nil, modelError(ErrIndexOutOfRange, "select", "index %d with %d channels", p.index, n)
			}
			add(i)
			continue
		}
		start, stop := p.bounds(n)
		if p.step > 0 {
			for i := start; i < stop; i += p.step {
				add(i)
			}
		} else {
			for i := start; i > stop; i += p.step {
				add(i)
			}
		}
	}
	return out, nil
}

// bounds applies slice index adjustment for a sequence of length n.
func (p selectorPart) bounds(n int) (start, stop int) {
	step := p.step
	if step == 0 {
		step = 1
	}
	if !p.hasStart {
		start = 0
		if step < 0 {
			start = n - 1
		}
	} else {
		start = clampIndex(p.start, n, step)
	}
	if !p.hasEnd {
		stop = n
		if step < 0 {
			stop = -1
		}
	} else {
		stop = clampIndex(p.stop, n, step)
	}
	return start, stop
}

func clampIndex(i, n, step int) int {
	if i < 0 {
		i += n
		if i < 0 {
			if step < 0 {
				return -1
			}
			return 0
		}
		return i
	}
	if i >= n {
		if step < 0 {
			return n - 1
		}
		return n
	}
	return i
}
