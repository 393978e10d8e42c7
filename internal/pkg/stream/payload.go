package stream

// Terminal describes one terminal of a piece of equipment.
type Terminal struct {
	MRID                 string `json:"MRID"`
	Name                 string `json:"Name"`
	SequenceNumber       int    `json:"SequenceNumber"`
	Phases               string `json:"Phases"`
	ConnectivityNodeMRID string `json:"ConnectivityNodeMRID"`
}

// Equipment holds the fields every conducting equipment record carries.
type Equipment struct {
	MRID            string     `json:"MRID"`
	Name            string     `json:"Name"`
	BaseVoltageMRID string     `json:"BaseVoltageMRID"`
	Terminals       []Terminal `json:"Terminals"`
}

type EnergySource struct {
	Equipment        `bson:",inline"`
	ActivePower      float64 `json:"ActivePower"`
	ReactivePower    float64 `json:"ReactivePower"`
	VoltageAngle     float64 `json:"VoltageAngle"`
	VoltageMagnitude float64 `json:"VoltageMagnitude"`
	R                float64 `json:"R"`
	X                float64 `json:"X"`
}

type EnergyConsumer struct {
	Equipment       `bson:",inline"`
	CustomerCount   int     `json:"CustomerCount"`
	Grounded        bool    `json:"Grounded"`
	P               float64 `json:"P"`
	Q               float64 `json:"Q"`
	PhaseConnection string  `json:"PhaseConnection"`
}

// PowerTransformerEnd describes a winding. TerminalMRID names one of the
// transformer's own terminals.
type PowerTransformerEnd struct {
	MRID           string  `json:"MRID"`
	Name           string  `json:"Name"`
	EndNumber      int     `json:"EndNumber"`
	RatedS         float64 `json:"RatedS"`
	RatedU         float64 `json:"RatedU"`
	R              float64 `json:"R"`
	X              float64 `json:"X"`
	ConnectionKind string  `json:"ConnectionKind"`
	TerminalMRID   string  `json:"TerminalMRID"`
}

type PowerTransformer struct {
	Equipment   `bson:",inline"`
	VectorGroup string                `json:"VectorGroup"`
	Ends        []PowerTransformerEnd `json:"Ends"`
}

type AcLineSegment struct {
	Equipment                      `bson:",inline"`
	Length                         float64 `json:"Length"`
	PerLengthSequenceImpedanceMRID string  `json:"PerLengthSequenceImpedanceMRID"`
	AssetInfoMRID                  string  `json:"AssetInfoMRID"`
}

type Breaker struct {
	Equipment  `bson:",inline"`
	NormalOpen bool `json:"NormalOpen"`
	Open       bool `json:"Open"`
}

type BaseVoltage struct {
	MRID           string  `json:"MRID"`
	Name           string  `json:"Name"`
	NominalVoltage float64 `json:"NominalVoltage"`
}

type AssetInfo struct {
	MRID         string  `json:"MRID"`
	Name         string  `json:"Name"`
	RatedCurrent float64 `json:"RatedCurrent"`
	Material     string  `json:"Material"`
}

type PerLengthSequenceImpedance struct {
	MRID string  `json:"MRID"`
	Name string  `json:"Name"`
	R    float64 `json:"R"`
	X    float64 `json:"X"`
	R0   float64 `json:"R0"`
	X0   float64 `json:"X0"`
	Bch  float64 `json:"Bch"`
	B0ch float64 `json:"B0ch"`
}

type UsagePoint struct {
	MRID           string   `json:"MRID"`
	Name           string   `json:"Name"`
	EquipmentMRIDs []string `json:"EquipmentMRIDs"`
}

type Meter struct {
	MRID            string   `json:"MRID"`
	Name            string   `json:"Name"`
	CustomerMRID    string   `json:"CustomerMRID"`
	UsagePointMRIDs []string `json:"UsagePointMRIDs"`
}

// CustomerAgreement binds a customer to pricing structures. The customer is
// created on first reference.
type CustomerAgreement struct {
	MRID                  string   `json:"MRID"`
	Name                  string   `json:"Name"`
	CustomerMRID          string   `json:"CustomerMRID"`
	CustomerName          string   `json:"CustomerName"`
	CustomerKind          string   `json:"CustomerKind"`
	PricingStructureMRIDs []string `json:"PricingStructureMRIDs"`
}

type PricingStructure struct {
	MRID string `json:"MRID"`
	Name string `json:"Name"`
	Code string `json:"Code"`
}

func (*EnergySource) Tag() Tag               { return TagEnergySource }
func (*EnergyConsumer) Tag() Tag             { return TagEnergyConsumer }
func (*PowerTransformer) Tag() Tag           { return TagPowerTransformer }
func (*AcLineSegment) Tag() Tag              { return TagAcLineSegment }
func (*Breaker) Tag() Tag                    { return TagBreaker }
func (*BaseVoltage) Tag() Tag                { return TagBaseVoltage }
func (*AssetInfo) Tag() Tag                  { return TagAssetInfo }
func (*PerLengthSequenceImpedance) Tag() Tag { return TagPerLengthSequenceImpedance }
func (*UsagePoint) Tag() Tag                 { return TagUsagePoint }
func (*Meter) Tag() Tag                      { return TagMeter }
func (*CustomerAgreement) Tag() Tag          { return TagCustomerAgreement }
func (*PricingStructure) Tag() Tag           { return TagPricingStructure }
