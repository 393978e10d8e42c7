package cim

import (
	"fmt"
	"weak"

	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
)

// ConnectivityNode joins terminals at a single electrical point. Its only
// owner is the network that holds it; terminals refer to it weakly.
type ConnectivityNode struct {
	identity.Base
}

// NewConnectivityNode returns a node identified by mrid.
func NewConnectivityNode(mrid, name string) *ConnectivityNode {
	return &ConnectivityNode{Base: identity.NewBase(mrid, name)}
}

func (n *ConnectivityNode) String() string {
	return fmt.Sprintf("ConnectivityNode{%s}", n.MRID())
}

// Terminal is an AC connection point on a piece of conducting equipment.
type Terminal struct {
	identity.Base

	// SequenceNumber orders terminals on multi-terminal equipment, starting at 1.
	SequenceNumber int
	Phases         PhaseCode

	equipment *ConductingEquipment
	node      weak.Pointer[ConnectivityNode]
}

// NewTerminal returns an unowned, unconnected terminal with ABC phasing.
func NewTerminal(mrid, name string) *Terminal {
	return &Terminal{
		Base:   identity.NewBase(mrid, name),
		Phases: PhaseCodeABC,
	}
}

func (t *Terminal) String() string {
	return fmt.Sprintf("Terminal{%s}", t.MRID())
}

// ConductingEquipment returns the owning equipment, or nil.
func (t *Terminal) ConductingEquipment() *ConductingEquipment {
	return t.equipment
}

// SetConductingEquipment assigns the owning equipment. The link can only be
// set once; repeating the same owner succeeds, a different owner fails with
// an AlreadyOwnedError. Clearing an owned terminal with nil also fails.
func (t *Terminal) SetConductingEquipment(ce *ConductingEquipment) error {
	if t.equipment == nil || t.equipment == ce {
		t.equipment = ce
		return nil
	}
	proposed := ""
	if ce != nil {
		proposed = ce.MRID()
	}
	return cimerr.AlreadyOwnedError{
		MRID:     t.MRID(),
		Owner:    t.equipment.MRID(),
		Proposed: proposed,
	}
}

// Connect points the terminal at n. Re-pointing to another node is allowed.
func (t *Terminal) Connect(n *ConnectivityNode) {
	if n == nil {
		t.Disconnect()
		return
	}
	t.node = weak.Make(n)
}

// Disconnect clears the node link.
func (t *Terminal) Disconnect() {
	t.node = weak.Pointer[ConnectivityNode]{}
}

// ConnectivityNode returns the linked node, or nil when the terminal is not
// connected or its node has been released by its owner and collected.
func (t *Terminal) ConnectivityNode() *ConnectivityNode {
	return t.node.Value()
}

// ConnectivityNodeID returns the mRID of the linked node, or "".
func (t *Terminal) ConnectivityNodeID() string {
	if n := t.ConnectivityNode(); n != nil {
		return n.MRID()
	}
	return ""
}

// Connected reports whether the terminal links to a live node.
func (t *Terminal) Connected() bool {
	return t.ConnectivityNode() != nil
}

// OtherTerminals returns the sibling terminals on the owning equipment.
func (t *Terminal) OtherTerminals() []*Terminal {
	if t.equipment == nil {
		return nil
	}
	others := make([]*Terminal, 0, len(t.equipment.terminals))
	for _, other := range t.equipment.terminals {
		if other != t {
			others = append(others, other)
		}
	}
	return others
}

// BaseVoltage returns the base voltage of the owning equipment, or nil.
func (t *Terminal) BaseVoltage() *BaseVoltage {
	if t.equipment == nil {
		return nil
	}
	return t.equipment.BaseVoltage()
}
