package cim

import (
	"fmt"
	"iter"

	"github.com/ohowland/cgc_cim/internal/pkg/identity"
	"github.com/ohowland/cgc_cim/internal/pkg/relation"
)

// UsagePoint is a logical point on the network where consumption or
// production is measured.
type UsagePoint struct {
	identity.Base

	equipment relation.Collection[Equipment]
}

func NewUsagePoint(mrid, name string) *UsagePoint {
	up := &UsagePoint{Base: identity.NewBase(mrid, name)}
	up.equipment = relation.ByMRID[Equipment](fmt.Sprintf("UsagePoint{%s}", up.MRID()))
	return up
}

func (up *UsagePoint) AddEquipment(eq Equipment) error {
	return up.equipment.Add(eq)
}

func (up *UsagePoint) RemoveEquipment(eq Equipment) error {
	return up.equipment.Remove(eq)
}

func (up *UsagePoint) Equipment(mrid string) (Equipment, error) {
	return up.equipment.Get(mrid)
}

func (up *UsagePoint) NumEquipment() int {
	return up.equipment.Len()
}

func (up *UsagePoint) AllEquipment() iter.Seq[Equipment] {
	return up.equipment.All()
}

// Meter is the physical metering asset attached to one or more usage points.
type Meter struct {
	identity.Base
	CustomerMRID string

	usagePoints relation.Collection[*UsagePoint]
}

func NewMeter(mrid, name string) *Meter {
	mt := &Meter{Base: identity.NewBase(mrid, name)}
	mt.usagePoints = relation.ByMRID[*UsagePoint](fmt.Sprintf("Meter{%s}", mt.MRID()))
	return mt
}

func (m *Meter) AddUsagePoint(up *UsagePoint) error {
	return m.usagePoints.Add(up)
}

func (m *Meter) RemoveUsagePoint(up *UsagePoint) error {
	return m.usagePoints.Remove(up)
}

func (m *Meter) UsagePoint(mrid string) (*UsagePoint, error) {
	return m.usagePoints.Get(mrid)
}

func (m *Meter) NumUsagePoints() int {
	return m.usagePoints.Len()
}

func (m *Meter) UsagePoints() iter.Seq[*UsagePoint] {
	return m.usagePoints.All()
}
