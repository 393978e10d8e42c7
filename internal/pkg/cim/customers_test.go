package cim

import (
	"testing"

	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"gotest.tools/v3/assert"
)

func TestCustomerAgreementPricingStructures(t *testing.T) {
	ca := NewCustomerAgreement("ca1", "residential")
	assert.Assert(t, !ca.HasPricingStructures())

	ps1 := NewPricingStructure("ps1", "flat")
	ps2 := NewPricingStructure("ps2", "tou")
	assert.NilError(t, ca.AddPricingStructure(ps1))
	assert.NilError(t, ca.AddPricingStructure(ps2))
	assert.Equal(t, ca.NumPricingStructures(), 2)

	err := ca.AddPricingStructure(NewPricingStructure("ps1", "dup"))
	assert.ErrorType(t, err, cimerr.DuplicateKeyError{})
	assert.ErrorContains(t, err, "CustomerAgreement{ca1}")

	got, err := ca.PricingStructure("ps1")
	assert.NilError(t, err)
	assert.Equal(t, got, ps1)

	count := 0
	for range ca.PricingStructures() {
		count++
	}
	assert.Equal(t, count, 2)

	assert.NilError(t, ca.RemovePricingStructure(ps1))
	assert.NilError(t, ca.RemovePricingStructure(ps2))
	assert.Assert(t, !ca.HasPricingStructures())
	assert.Assert(t, cimerr.IsNotFound(ca.RemovePricingStructure(ps1)))
}

func TestClearPricingStructures(t *testing.T) {
	ca := NewCustomerAgreement("ca1", "")
	assert.NilError(t, ca.AddPricingStructure(NewPricingStructure("ps1", "")))
	ca.ClearPricingStructures()
	assert.Equal(t, ca.NumPricingStructures(), 0)
	assert.Assert(t, !ca.HasPricingStructures())
}

func TestMeterUsagePoints(t *testing.T) {
	up := NewUsagePoint("up1", "")
	ec := NewEnergyConsumer("ec1", "")
	assert.NilError(t, up.AddEquipment(ec))
	assert.ErrorType(t, up.AddEquipment(ec), cimerr.DuplicateKeyError{})

	eq, err := up.Equipment("ec1")
	assert.NilError(t, err)
	assert.Equal(t, eq.MRID(), "ec1")

	mt := NewMeter("mt1", "")
	assert.NilError(t, mt.AddUsagePoint(up))
	assert.Equal(t, mt.NumUsagePoints(), 1)
	assert.NilError(t, mt.RemoveUsagePoint(up))
	assert.Equal(t, mt.NumUsagePoints(), 0)
}

func TestPhaseShuntConnectionKind(t *testing.T) {
	assert.Equal(t, PhaseShuntYn.ShortName(), "Yn")
	assert.Equal(t, PhaseShuntD.String(), "PhaseShuntConnectionKind.D")
	assert.Equal(t, ParsePhaseShuntConnectionKind("G"), PhaseShuntG)
	assert.Equal(t, ParsePhaseShuntConnectionKind("Q"), PhaseShuntUnrecognized)
	assert.Equal(t, PhaseShuntConnectionKind(42).ShortName(), "UNRECOGNIZED")
}

func TestParsePhaseCode(t *testing.T) {
	pc, ok := ParsePhaseCode("")
	assert.Assert(t, ok)
	assert.Equal(t, pc, PhaseCodeABC)

	pc, ok = ParsePhaseCode("abn")
	assert.Assert(t, ok)
	assert.Equal(t, pc, PhaseCodeABN)
	assert.Equal(t, pc.NumPhases(), 2)

	_, ok = ParsePhaseCode("QQ")
	assert.Assert(t, !ok)
}
