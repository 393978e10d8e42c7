package stream

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Tag discriminates the payload carried by a Record.
type Tag string

const (
	TagEnergySource               Tag = "es"
	TagEnergyConsumer             Tag = "ec"
	TagPowerTransformer           Tag = "pt"
	TagAcLineSegment              Tag = "acls"
	TagBreaker                    Tag = "br"
	TagBaseVoltage                Tag = "bv"
	TagAssetInfo                  Tag = "ai"
	TagPerLengthSequenceImpedance Tag = "si"
	TagUsagePoint                 Tag = "up"
	TagMeter                      Tag = "mt"
	TagCustomerAgreement          Tag = "ca"
	TagPricingStructure           Tag = "ps"
)

var payloadFactories = map[Tag]func() Payload{
	TagEnergySource:               func() Payload { return &EnergySource{} },
	TagEnergyConsumer:             func() Payload { return &EnergyConsumer{} },
	TagPowerTransformer:           func() Payload { return &PowerTransformer{} },
	TagAcLineSegment:              func() Payload { return &AcLineSegment{} },
	TagBreaker:                    func() Payload { return &Breaker{} },
	TagBaseVoltage:                func() Payload { return &BaseVoltage{} },
	TagAssetInfo:                  func() Payload { return &AssetInfo{} },
	TagPerLengthSequenceImpedance: func() Payload { return &PerLengthSequenceImpedance{} },
	TagUsagePoint:                 func() Payload { return &UsagePoint{} },
	TagMeter:                      func() Payload { return &Meter{} },
	TagCustomerAgreement:          func() Payload { return &CustomerAgreement{} },
	TagPricingStructure:           func() Payload { return &PricingStructure{} },
}

// Tags returns every known discriminant, sorted.
func Tags() []Tag {
	return slices.Sorted(maps.Keys(payloadFactories))
}

// NewPayload returns an empty payload for tag, or false for an unknown tag.
func NewPayload(tag Tag) (Payload, bool) {
	f, ok := payloadFactories[tag]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Payload is one of the mutually exclusive record bodies.
type Payload interface {
	Tag() Tag
}

// Record is a single element of an equipment stream. A nil Payload means the
// producer set no body.
type Record struct {
	Payload Payload
}

// Unknown is the payload of a record whose discriminant is not recognised.
type Unknown struct {
	Name string
}

func (u Unknown) Tag() Tag { return Tag(u.Name) }

// UnmarshalJSON decodes a record of the form {"<tag>": {...}}.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	return r.decode(len(fields), func(yield func(string, func(any) error) error) error {
		for name, raw := range fields {
			if err := yield(name, func(v any) error { return json.Unmarshal(raw, v) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarshalJSON encodes the record as {"<tag>": {...}}.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return []byte("{}"), nil
	}
	if u, ok := r.Payload.(Unknown); ok {
		return json.Marshal(map[string]struct{}{u.Name: {}})
	}
	return json.Marshal(map[Tag]Payload{r.Payload.Tag(): r.Payload})
}

// decode fills r from a document with n top level fields. each visits every
// field with a function that decodes the field value into its argument.
func (r *Record) decode(n int, each func(func(string, func(any) error) error) error) error {
	r.Payload = nil
	if n == 0 {
		return nil
	}

	var known []string
	var unknown string
	err := each(func(name string, unmarshal func(any) error) error {
		p, ok := NewPayload(Tag(name))
		if !ok {
			unknown = name
			return nil
		}
		known = append(known, name)
		if len(known) > 1 {
			return fmt.Errorf("record sets more than one payload: %v", known)
		}
		if err := unmarshal(p); err != nil {
			return fmt.Errorf("decode %q payload: %w", name, err)
		}
		r.Payload = p
		return nil
	})
	if err != nil {
		return err
	}
	if r.Payload == nil {
		r.Payload = Unknown{Name: unknown}
	}
	return nil
}
