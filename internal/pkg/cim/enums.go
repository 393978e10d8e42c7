package cim

import "strings"

// PhaseCode enumerates the phase connectivity of a terminal.
type PhaseCode string

const (
	PhaseCodeNone PhaseCode = "NONE"
	PhaseCodeA    PhaseCode = "A"
	PhaseCodeB    PhaseCode = "B"
	PhaseCodeC    PhaseCode = "C"
	PhaseCodeN    PhaseCode = "N"
	PhaseCodeAB   PhaseCode = "AB"
	PhaseCodeAC   PhaseCode = "AC"
	PhaseCodeBC   PhaseCode = "BC"
	PhaseCodeAN   PhaseCode = "AN"
	PhaseCodeBN   PhaseCode = "BN"
	PhaseCodeCN   PhaseCode = "CN"
	PhaseCodeABN  PhaseCode = "ABN"
	PhaseCodeACN  PhaseCode = "ACN"
	PhaseCodeBCN  PhaseCode = "BCN"
	PhaseCodeABC  PhaseCode = "ABC"
	PhaseCodeABCN PhaseCode = "ABCN"
	PhaseCodeX    PhaseCode = "X"
	PhaseCodeXN   PhaseCode = "XN"
	PhaseCodeXY   PhaseCode = "XY"
	PhaseCodeXYN  PhaseCode = "XYN"
)

var phaseCodes = map[PhaseCode]struct{}{
	PhaseCodeNone: {}, PhaseCodeA: {}, PhaseCodeB: {}, PhaseCodeC: {}, PhaseCodeN: {},
	PhaseCodeAB: {}, PhaseCodeAC: {}, PhaseCodeBC: {}, PhaseCodeAN: {}, PhaseCodeBN: {},
	PhaseCodeCN: {}, PhaseCodeABN: {}, PhaseCodeACN: {}, PhaseCodeBCN: {}, PhaseCodeABC: {},
	PhaseCodeABCN: {}, PhaseCodeX: {}, PhaseCodeXN: {}, PhaseCodeXY: {}, PhaseCodeXYN: {},
}

// ParsePhaseCode converts s to a PhaseCode. An empty string yields ABC, which
// is the assumed phasing when none is given.
func ParsePhaseCode(s string) (PhaseCode, bool) {
	if s == "" {
		return PhaseCodeABC, true
	}
	pc := PhaseCode(strings.ToUpper(s))
	_, ok := phaseCodes[pc]
	return pc, ok
}

// NumPhases counts the energised phases, excluding neutral.
func (pc PhaseCode) NumPhases() int {
	n := 0
	for _, r := range pc {
		switch r {
		case 'A', 'B', 'C', 'X', 'Y':
			n++
		}
	}
	return n
}

// PhaseShuntConnectionKind is the winding or shunt connection of equipment.
type PhaseShuntConnectionKind int

const (
	// Delta connection.
	PhaseShuntD PhaseShuntConnectionKind = iota
	// Wye connection.
	PhaseShuntY
	// Wye with neutral brought out for grounding.
	PhaseShuntYn
	// Independent winding, for single phase connections.
	PhaseShuntI
	// Explicit ground connection.
	PhaseShuntG
	PhaseShuntUnrecognized
)

var shuntShortNames = [...]string{"D", "Y", "Yn", "I", "G", "UNRECOGNIZED"}

// ShortName returns the bare enumerator name, e.g. "Yn".
func (k PhaseShuntConnectionKind) ShortName() string {
	if k < 0 || int(k) >= len(shuntShortNames) {
		return shuntShortNames[PhaseShuntUnrecognized]
	}
	return shuntShortNames[k]
}

func (k PhaseShuntConnectionKind) String() string {
	return "PhaseShuntConnectionKind." + k.ShortName()
}

// ParsePhaseShuntConnectionKind maps a short name onto its kind. Unknown names
// map to PhaseShuntUnrecognized.
func ParsePhaseShuntConnectionKind(s string) PhaseShuntConnectionKind {
	for i, name := range shuntShortNames {
		if name == s {
			return PhaseShuntConnectionKind(i)
		}
	}
	return PhaseShuntUnrecognized
}
