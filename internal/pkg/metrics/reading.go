package metrics

import (
	"slices"

	"github.com/ohowland/cgc_cim/internal/pkg/cim"
)

// ReadingKind is the measured quantity of a reading.
type ReadingKind string

const (
	KindVoltage       ReadingKind = "VOLTAGE"
	KindCurrent       ReadingKind = "CURRENT"
	KindRealPower     ReadingKind = "REAL_POWER"
	KindReactivePower ReadingKind = "REACTIVE_POWER"
	KindApparentPower ReadingKind = "APPARENT_POWER"
	KindEnergy        ReadingKind = "ENERGY"
	KindFrequency     ReadingKind = "FREQUENCY"
	KindPowerFactor   ReadingKind = "POWER_FACTOR"
)

// UnitSymbol is the unit a reading value is expressed in.
type UnitSymbol string

const (
	UnitNone UnitSymbol = ""
	UnitV    UnitSymbol = "V"
	UnitA    UnitSymbol = "A"
	UnitW    UnitSymbol = "W"
	UnitVAr  UnitSymbol = "VAr"
	UnitVA   UnitSymbol = "VA"
	UnitWh   UnitSymbol = "Wh"
	UnitHz   UnitSymbol = "Hz"
)

// Reading is one telemetry sample. Timestamps are integer milliseconds.
type Reading struct {
	Timestamp int64         `json:"Timestamp"`
	Value     float64       `json:"Value"`
	Kind      ReadingKind   `json:"Kind"`
	Phase     cim.PhaseCode `json:"Phase,omitempty"`
	Unit      UnitSymbol    `json:"Unit,omitempty"`
}

// MeterReadings aggregates the readings a single device reported in one
// bucket, grouped by kind in arrival order.
type MeterReadings struct {
	MRID   string
	Name   string
	PsrID  string
	Bucket int64

	kinds    []ReadingKind
	readings map[ReadingKind][]Reading
}

func newMeterReadings(mrid, name, psrID string, bucket int64) *MeterReadings {
	return &MeterReadings{
		MRID:     mrid,
		Name:     name,
		PsrID:    psrID,
		Bucket:   bucket,
		readings: make(map[ReadingKind][]Reading),
	}
}

func (m *MeterReadings) add(r Reading) {
	if _, ok := m.readings[r.Kind]; !ok {
		m.kinds = append(m.kinds, r.Kind)
	}
	m.readings[r.Kind] = append(m.readings[r.Kind], r)
}

// Kinds returns the reading kinds present, in first-seen order.
func (m *MeterReadings) Kinds() []ReadingKind {
	return slices.Clone(m.kinds)
}

// Readings returns the readings of kind in arrival order.
func (m *MeterReadings) Readings(kind ReadingKind) []Reading {
	return slices.Clone(m.readings[kind])
}

// All returns every reading, grouped by kind in first-seen order.
func (m *MeterReadings) All() []Reading {
	out := make([]Reading, 0, m.Len())
	for _, k := range m.kinds {
		out = append(out, m.readings[k]...)
	}
	return out
}

// Len returns the number of readings held.
func (m *MeterReadings) Len() int {
	n := 0
	for _, rs := range m.readings {
		n += len(rs)
	}
	return n
}

// clone copies m, keeping only the given kinds when any are passed.
func (m *MeterReadings) clone(only ...ReadingKind) *MeterReadings {
	c := newMeterReadings(m.MRID, m.Name, m.PsrID, m.Bucket)
	for _, k := range m.kinds {
		if len(only) > 0 && !slices.Contains(only, k) {
			continue
		}
		c.kinds = append(c.kinds, k)
		c.readings[k] = slices.Clone(m.readings[k])
	}
	return c
}
