package cim

import "github.com/ohowland/cgc_cim/internal/pkg/identity"

// BaseVoltage is a nominal voltage shared by equipment.
type BaseVoltage struct {
	identity.Base
	NominalVoltage float64
}

func NewBaseVoltage(mrid, name string, nominal float64) *BaseVoltage {
	return &BaseVoltage{Base: identity.NewBase(mrid, name), NominalVoltage: nominal}
}

// AssetInfo describes a conductor type.
type AssetInfo struct {
	identity.Base
	RatedCurrent float64
	Material     string
}

func NewAssetInfo(mrid, name string) *AssetInfo {
	return &AssetInfo{Base: identity.NewBase(mrid, name)}
}

// PerLengthSequenceImpedance holds positive and zero sequence line parameters
// per unit length.
type PerLengthSequenceImpedance struct {
	identity.Base
	R, X, R0, X0, Bch, B0ch float64
}

func NewPerLengthSequenceImpedance(mrid, name string) *PerLengthSequenceImpedance {
	return &PerLengthSequenceImpedance{Base: identity.NewBase(mrid, name)}
}
