package relation

import (
	"fmt"
	"strings"

	"patternlattice/internal/position"
)

// Mapping selects which endpoints of an input range propagate into the
// output range of a derived activation.
type Mapping int

const (
	None Mapping = iota
	Begin
	End
	Direct
)

func (m Mapping) String() string {
	switch m {
	case None:
		return "NONE"
	case Begin:
		return "BEGIN"
	case End:
		return "END"
	case Direct:
		return "DIRECT"
	}
	return fmt.Sprintf("mapping(%d)", int(m))
}

// ParseMapping parses NONE, BEGIN, END or DIRECT.
func ParseMapping(s string) (Mapping, error) {
	switch strings.ToUpper(s) {
	case "", "NONE":
		return None, nil
	case "BEGIN":
		return Begin, nil
	case "END":
		return End, nil
	case "DIRECT":
		return Direct, nil
	}
	return None, fmt.Errorf("unknown range mapping %q", s)
}

// MapsBegin reports whether the input begin becomes the output begin.
func (m Mapping) MapsBegin() bool { return m == Begin || m == Direct }

// MapsEnd reports whether the input end becomes the output end.
func (m Mapping) MapsEnd() bool { return m == End || m == Direct }

// Apply copies the mapped endpoints of in onto out.
func (m Mapping) Apply(out *position.Range, in position.Range) {
	if m.MapsBegin() {
		out.Begin = in.Begin
	}
	if m.MapsEnd() {
		out.End = in.End
	}
}

// OutputRelation returns the relation an input range must have with the
// output range under this mapping, or nil when no endpoint is mapped.
func (m Mapping) OutputRelation() Relation {
	switch m {
	case Begin:
		return BeginEquals
	case End:
		return EndEquals
	case Direct:
		return Equals
	}
	return nil
}
