package cell

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxNeighbors is the size of the radius-1 Moore neighbourhood in 3D.
const MaxNeighbors = 26

// Rule is a birth/survival automaton over the 26-neighbourhood.
type Rule struct {
	birth   [MaxNeighbors + 1]bool
	survive [MaxNeighbors + 1]bool

	BirthMaterial uint8
	BirthFlags    uint8
	// Inactive replaces cells that die or fail to be born.
	Inactive Cell
}

// DefaultRule is the B5/S45 3D Life variant, which supports gliders.
func DefaultRule() Rule {
	r, _ := ParseRule("B5/S45")
	r.BirthMaterial = 1
	r.BirthFlags = FlagAutomata
	return r
}

// NewRule builds a rule from explicit count lists. Counts outside 0..26 are rejected.
func NewRule(birth, survive []int) (Rule, error) {
	var r Rule
	for _, n := range birth {
		if n < 0 || n > MaxNeighbors {
			return Rule{}, fmt.Errorf("birth count %d out of range", n)
		}
		r.birth[n] = true
	}
	for _, n := range survive {
		if n < 0 || n > MaxNeighbors {
			return Rule{}, fmt.Errorf("survive count %d out of range", n)
		}
		r.survive[n] = true
	}
	r.BirthMaterial = 1
	r.BirthFlags = FlagAutomata
	return r, nil
}

// ParseRule accepts "B5/S45" or "B5,6/S4,5,12" notation. Multi-digit counts need commas.
func ParseRule(s string) (Rule, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.Split(s, "/")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "B") || !strings.HasPrefix(parts[1], "S") {
		return Rule{}, fmt.Errorf("rule %q: want B<counts>/S<counts>", s)
	}
	birth, err := parseCounts(parts[0][1:])
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: birth: %w", s, err)
	}
	survive, err := parseCounts(parts[1][1:])
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: survive: %w", s, err)
	}
	return NewRule(birth, survive)
}

func parseCounts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	if strings.Contains(s, ",") {
		fields := strings.Split(s, ",")
		// A lone multi-digit count is written with a trailing comma ("S12,").
		if fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		for _, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return nil, fmt.Errorf("bad count %q", ch)
		}
		out = append(out, int(ch-'0'))
	}
	return out, nil
}

// BirthsOnZero reports whether a dead cell with no alive neighbours is born.
func (r Rule) BirthsOnZero() bool { return r.birth[0] }

func (r Rule) Birth() []int   { return counts(r.birth[:]) }
func (r Rule) Survive() []int { return counts(r.survive[:]) }

func counts(set []bool) []int {
	var out []int
	for n, ok := range set {
		if ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// String formats the rule in notation accepted by ParseRule. When any count in either set
// has two digits, both sets are comma separated.
func (r Rule) String() string {
	birth, survive := r.Birth(), r.Survive()
	commas := hasMultiDigit(birth) || hasMultiDigit(survive)
	return "B" + formatCounts(birth, commas) + "/S" + formatCounts(survive, commas)
}

func hasMultiDigit(ns []int) bool {
	for _, n := range ns {
		if n > 9 {
			return true
		}
	}
	return false
}

func formatCounts(ns []int, commas bool) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	if !commas {
		return strings.Join(parts, "")
	}
	out := strings.Join(parts, ",")
	if len(ns) == 1 && ns[0] > 9 {
		out += ","
	}
	return out
}

func (r Rule) alive() Cell {
	return New(r.BirthMaterial, r.BirthFlags|FlagAutomata)
}

// Next returns the successor of cur given its alive-neighbour count.
func (r Rule) Next(cur Cell, neighbors int) Cell {
	if cur.IsStatic() {
		return cur
	}
	if neighbors < 0 || neighbors > MaxNeighbors {
		return r.Inactive
	}
	if cur.IsAlive() {
		if r.survive[neighbors] {
			flags := cur.Flags() | FlagAutomata | (r.BirthFlags &^ FlagAutomata)
			return cur.WithFlags(flags)
		}
		return r.Inactive
	}
	if r.birth[neighbors] {
		return r.alive()
	}
	return r.Inactive
}
