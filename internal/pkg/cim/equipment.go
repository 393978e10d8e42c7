package cim

import (
	"fmt"
	"slices"

	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
)

// Equipment is implemented by every conducting equipment kind.
type Equipment interface {
	identity.IdentifiedObject
	Conducting() *ConductingEquipment
}

// ConductingEquipment is the part of every equipment kind that owns terminals.
// It is embedded by the concrete kinds and bound to them on construction so a
// terminal can reach the concrete equipment through Equipment().
type ConductingEquipment struct {
	identity.Base

	self        Equipment
	baseVoltage *BaseVoltage
	terminals   []*Terminal
}

func newConductingEquipment(mrid, name string) ConductingEquipment {
	return ConductingEquipment{Base: identity.NewBase(mrid, name)}
}

// Conducting returns ce itself.
func (ce *ConductingEquipment) Conducting() *ConductingEquipment {
	return ce
}

// Equipment returns the concrete equipment embedding ce.
func (ce *ConductingEquipment) Equipment() Equipment {
	if ce.self == nil {
		return ce
	}
	return ce.self
}

func (ce *ConductingEquipment) String() string {
	return fmt.Sprintf("%T{%s}", ce.Equipment(), ce.MRID())
}

// BaseVoltage returns the equipment base voltage, or nil.
func (ce *ConductingEquipment) BaseVoltage() *BaseVoltage {
	return ce.baseVoltage
}

// SetBaseVoltage assigns the base voltage.
func (ce *ConductingEquipment) SetBaseVoltage(bv *BaseVoltage) {
	ce.baseVoltage = bv
}

// Terminals returns the owned terminals in sequence order.
func (ce *ConductingEquipment) Terminals() []*Terminal {
	return slices.Clone(ce.terminals)
}

// NumTerminals returns the number of owned terminals.
func (ce *ConductingEquipment) NumTerminals() int {
	return len(ce.terminals)
}

// Terminal returns the owned terminal with the given sequence number.
func (ce *ConductingEquipment) Terminal(sequenceNumber int) (*Terminal, error) {
	for _, t := range ce.terminals {
		if t.SequenceNumber == sequenceNumber {
			return t, nil
		}
	}
	return nil, cimerr.NotFoundError{Kind: "Terminal", Key: fmt.Sprintf("%s#%d", ce.MRID(), sequenceNumber)}
}

// AddTerminal takes ownership of t and appends it to the terminal sequence. A
// terminal owned by other equipment is rejected with AlreadyOwnedError. A
// terminal without a sequence number is numbered after the existing ones; a
// sequence number already in use is rejected with DuplicateKeyError.
func (ce *ConductingEquipment) AddTerminal(t *Terminal) error {
	last := 0
	for _, existing := range ce.terminals {
		if existing.MRID() == t.MRID() {
			return cimerr.DuplicateKeyError{Owner: ce.String(), Key: t.MRID()}
		}
		if t.SequenceNumber != 0 && existing.SequenceNumber == t.SequenceNumber {
			return cimerr.DuplicateKeyError{Owner: ce.String(), Key: fmt.Sprintf("%s#%d", ce.MRID(), t.SequenceNumber)}
		}
		last = max(last, existing.SequenceNumber)
	}
	if err := t.SetConductingEquipment(ce); err != nil {
		return err
	}
	if t.SequenceNumber == 0 {
		t.SequenceNumber = last + 1
	}
	ce.terminals = append(ce.terminals, t)
	slices.SortStableFunc(ce.terminals, func(a, b *Terminal) int {
		return a.SequenceNumber - b.SequenceNumber
	})
	return nil
}

// EnergySource is a generic source of energy, typically the feeder head.
type EnergySource struct {
	ConductingEquipment

	ActivePower      float64
	ReactivePower    float64
	VoltageAngle     float64
	VoltageMagnitude float64
	R, X             float64
}

// NewEnergySource returns an energy source with no terminals.
func NewEnergySource(mrid, name string) *EnergySource {
	es := &EnergySource{ConductingEquipment: newConductingEquipment(mrid, name)}
	es.self = es
	return es
}

// EnergyConsumer is a load point, usually a customer connection.
type EnergyConsumer struct {
	ConductingEquipment

	CustomerCount   int
	Grounded        bool
	P, Q            float64
	PhaseConnection PhaseShuntConnectionKind
}

// NewEnergyConsumer returns an energy consumer with no terminals.
func NewEnergyConsumer(mrid, name string) *EnergyConsumer {
	ec := &EnergyConsumer{ConductingEquipment: newConductingEquipment(mrid, name)}
	ec.self = ec
	return ec
}

// PowerTransformerEnd is one winding of a power transformer.
type PowerTransformerEnd struct {
	identity.Base

	EndNumber      int
	RatedS         float64
	RatedU         float64
	R, X           float64
	ConnectionKind PhaseShuntConnectionKind
	Terminal       *Terminal
}

// NewPowerTransformerEnd returns a winding identified by mrid.
func NewPowerTransformerEnd(mrid, name string, endNumber int) *PowerTransformerEnd {
	return &PowerTransformerEnd{Base: identity.NewBase(mrid, name), EndNumber: endNumber}
}

// PowerTransformer is a transformer of two or more windings.
type PowerTransformer struct {
	ConductingEquipment

	VectorGroup string
	ends        []*PowerTransformerEnd
}

// NewPowerTransformer returns a transformer with no ends or terminals.
func NewPowerTransformer(mrid, name string) *PowerTransformer {
	pt := &PowerTransformer{ConductingEquipment: newConductingEquipment(mrid, name)}
	pt.self = pt
	return pt
}

// AddEnd appends a winding, keeping ends ordered by end number.
func (pt *PowerTransformer) AddEnd(end *PowerTransformerEnd) error {
	for _, e := range pt.ends {
		if e.MRID() == end.MRID() || e.EndNumber == end.EndNumber {
			return cimerr.DuplicateKeyError{Owner: pt.String(), Key: end.MRID()}
		}
	}
	pt.ends = append(pt.ends, end)
	slices.SortFunc(pt.ends, func(a, b *PowerTransformerEnd) int {
		return a.EndNumber - b.EndNumber
	})
	return nil
}

// Ends returns the windings ordered by end number.
func (pt *PowerTransformer) Ends() []*PowerTransformerEnd {
	return slices.Clone(pt.ends)
}

// AcLineSegment is a wire or cable between two terminals.
type AcLineSegment struct {
	ConductingEquipment

	Length float64

	impedance *PerLengthSequenceImpedance
	wireInfo  *AssetInfo
}

// NewAcLineSegment returns a line segment with no terminals.
func NewAcLineSegment(mrid, name string) *AcLineSegment {
	acls := &AcLineSegment{ConductingEquipment: newConductingEquipment(mrid, name)}
	acls.self = acls
	return acls
}

// PerLengthSequenceImpedance returns the line impedance, or nil.
func (l *AcLineSegment) PerLengthSequenceImpedance() *PerLengthSequenceImpedance {
	return l.impedance
}

// SetPerLengthSequenceImpedance assigns the line impedance.
func (l *AcLineSegment) SetPerLengthSequenceImpedance(z *PerLengthSequenceImpedance) {
	l.impedance = z
}

// AssetInfo returns the wire info of the conductor, or nil.
func (l *AcLineSegment) AssetInfo() *AssetInfo {
	return l.wireInfo
}

// SetAssetInfo assigns the wire info.
func (l *AcLineSegment) SetAssetInfo(ai *AssetInfo) {
	l.wireInfo = ai
}

// Breaker is a switch able to interrupt fault currents.
type Breaker struct {
	ConductingEquipment

	NormalOpen bool
	Open       bool
}

// NewBreaker returns a closed breaker with no terminals.
func NewBreaker(mrid, name string) *Breaker {
	br := &Breaker{ConductingEquipment: newConductingEquipment(mrid, name)}
	br.self = br
	return br
}
