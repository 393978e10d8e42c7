package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Policy decides what happens to a record with an unknown or unset payload.
type Policy int

const (
	// PolicySkip logs and counts the record, then carries on.
	PolicySkip Policy = iota
	// PolicyFail aborts the build with an UnknownDiscriminantError.
	PolicyFail
)

func (p Policy) String() string {
	if p == PolicyFail {
		return "fail"
	}
	return "skip"
}

// ParsePolicy accepts "skip" or "fail". Anything else is skip.
func ParsePolicy(s string) Policy {
	if s == "fail" {
		return PolicyFail
	}
	return PolicySkip
}

// Stats counts what a builder did with the records it saw.
type Stats struct {
	Records int         `json:"Records"`
	Applied int         `json:"Applied"`
	Skipped int         `json:"Skipped"`
	ByTag   map[Tag]int `json:"ByTag"`
}

// Option configures a Builder.
type Option func(*Builder)

func WithPolicy(p Policy) Option {
	return func(b *Builder) { b.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l.Named("builder")
		}
	}
}

// WithCounter counts records by tag and outcome on c. See NewRecordCounter.
func WithCounter(c *prometheus.CounterVec) Option {
	return func(b *Builder) { b.counter = c }
}

// NewRecordCounter returns the counter vector a Builder reports to.
func NewRecordCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgc_cim_stream_records_total",
		Help: "Equipment stream records by tag and outcome.",
	}, []string{"tag", "outcome"})
}

// Builder populates a network from stream records. References between
// records are collected while applying and resolved by Resolve, so records
// may arrive in any order.
type Builder struct {
	network *network.Network
	policy  Policy
	log     *zap.Logger
	counter *prometheus.CounterVec

	pending []func() error
	stats   Stats
}

func NewBuilder(n *network.Network, opts ...Option) *Builder {
	b := &Builder{
		network: n,
		policy:  PolicySkip,
		log:     zap.NewNop(),
		stats:   Stats{ByTag: make(map[Tag]int)},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Network returns the network being built.
func (b *Builder) Network() *network.Network {
	return b.network
}

// Stats returns the counts so far.
func (b *Builder) Stats() Stats {
	s := b.stats
	s.ByTag = make(map[Tag]int, len(b.stats.ByTag))
	for k, v := range b.stats.ByTag {
		s.ByTag[k] = v
	}
	return s
}

// Build pulls records from src until io.EOF, applies each, then resolves the
// collected references. Cancelling ctx stops the pull.
func (b *Builder) Build(ctx context.Context, src Source) (Stats, error) {
	for {
		if err := ctx.Err(); err != nil {
			return b.Stats(), err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.Stats(), fmt.Errorf("read record: %w", err)
		}
		if err := b.Apply(rec); err != nil {
			return b.Stats(), err
		}
	}
	if err := b.Resolve(); err != nil {
		return b.Stats(), err
	}
	b.log.Info("network built",
		zap.Int("records", b.stats.Records),
		zap.Int("applied", b.stats.Applied),
		zap.Int("skipped", b.stats.Skipped))
	return b.Stats(), nil
}

// Apply adds the object carried by rec to the network. Under PolicySkip a
// record without a known payload is counted and ignored.
func (b *Builder) Apply(rec Record) error {
	b.stats.Records++
	err := b.dispatch(rec)

	tag := "none"
	if rec.Payload != nil && rec.Payload.Tag() != "" {
		tag = string(rec.Payload.Tag())
	}

	var unknown cimerr.UnknownDiscriminantError
	switch {
	case err == nil:
		b.stats.Applied++
		b.stats.ByTag[rec.Payload.Tag()]++
		b.count(tag, "applied")
		return nil
	case errors.As(err, &unknown) && b.policy == PolicySkip:
		b.stats.Skipped++
		b.count(tag, "skipped")
		b.log.Warn("skipping record", zap.Int("record", b.stats.Records), zap.Error(err))
		return nil
	default:
		b.count(tag, "failed")
		return fmt.Errorf("record %d: %w", b.stats.Records, err)
	}
}

func (b *Builder) count(tag, outcome string) {
	if b.counter != nil {
		b.counter.WithLabelValues(tag, outcome).Inc()
	}
}

func (b *Builder) dispatch(rec Record) error {
	switch p := rec.Payload.(type) {
	case *EnergySource:
		return b.addEnergySource(p)
	case *EnergyConsumer:
		return b.addEnergyConsumer(p)
	case *PowerTransformer:
		return b.addPowerTransformer(p)
	case *AcLineSegment:
		return b.addAcLineSegment(p)
	case *Breaker:
		return b.addBreaker(p)
	case *BaseVoltage:
		return b.network.Add(cim.NewBaseVoltage(p.MRID, p.Name, p.NominalVoltage))
	case *AssetInfo:
		ai := cim.NewAssetInfo(p.MRID, p.Name)
		ai.RatedCurrent = p.RatedCurrent
		ai.Material = p.Material
		return b.network.Add(ai)
	case *PerLengthSequenceImpedance:
		z := cim.NewPerLengthSequenceImpedance(p.MRID, p.Name)
		z.R, z.X, z.R0, z.X0, z.Bch, z.B0ch = p.R, p.X, p.R0, p.X0, p.Bch, p.B0ch
		return b.network.Add(z)
	case *UsagePoint:
		return b.addUsagePoint(p)
	case *Meter:
		return b.addMeter(p)
	case *CustomerAgreement:
		return b.addCustomerAgreement(p)
	case *PricingStructure:
		ps := cim.NewPricingStructure(p.MRID, p.Name)
		ps.Code = p.Code
		return b.network.Add(ps)
	case Unknown:
		return cimerr.UnknownDiscriminantError{Tag: p.Name}
	case nil:
		return cimerr.UnknownDiscriminantError{}
	default:
		return cimerr.UnknownDiscriminantError{Tag: string(p.Tag())}
	}
}

// Resolve links the references collected so far. Every unresolved reference
// is reported.
func (b *Builder) Resolve() error {
	var errs []error
	for _, link := range b.pending {
		if err := link(); err != nil {
			errs = append(errs, err)
		}
	}
	b.pending = nil
	return errors.Join(errs...)
}

func (b *Builder) later(link func() error) {
	b.pending = append(b.pending, link)
}

// addEquipment creates the terminals of msg on eq, registers eq and connects
// the terminals to their nodes.
func (b *Builder) addEquipment(eq cim.Equipment, msg Equipment) ([]*cim.Terminal, error) {
	ce := eq.Conducting()
	terms := make([]*cim.Terminal, 0, len(msg.Terminals))
	for _, tm := range msg.Terminals {
		t := cim.NewTerminal(tm.MRID, tm.Name)
		t.SequenceNumber = tm.SequenceNumber
		pc, ok := cim.ParsePhaseCode(tm.Phases)
		if !ok {
			return nil, fmt.Errorf("terminal %s: invalid phases %q", t.MRID(), tm.Phases)
		}
		t.Phases = pc
		if err := ce.AddTerminal(t); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// register adds eq to the network and plugs in its terminals. Node mRIDs are
// checked first so a record that cannot be connected leaves nothing behind.
func (b *Builder) register(eq cim.Equipment, msg Equipment, terms []*cim.Terminal) error {
	if err := b.checkNodes(eq, msg); err != nil {
		return err
	}
	if err := b.network.Add(eq); err != nil {
		return err
	}
	for i, tm := range msg.Terminals {
		if tm.ConnectivityNodeMRID == "" {
			continue
		}
		if err := b.network.Connect(terms[i], tm.ConnectivityNodeMRID); err != nil {
			return err
		}
	}
	if id := msg.BaseVoltageMRID; id != "" {
		ce := eq.Conducting()
		b.later(func() error {
			bv, err := network.Get[*cim.BaseVoltage](b.network, id)
			if err != nil {
				return fmt.Errorf("%s base voltage: %w", ce, err)
			}
			ce.SetBaseVoltage(bv)
			return nil
		})
	}
	return nil
}

// checkNodes reports a node mRID that names an object other than a
// connectivity node, either in the network or in the record itself.
func (b *Builder) checkNodes(eq cim.Equipment, msg Equipment) error {
	own := map[string]bool{eq.MRID(): true}
	for _, tm := range msg.Terminals {
		own[tm.MRID] = true
	}
	for _, tm := range msg.Terminals {
		id := tm.ConnectivityNodeMRID
		if id == "" {
			continue
		}
		if _, err := b.network.ConnectivityNode(id); err == nil {
			continue
		}
		if own[id] || b.network.Registry().Contains(id) {
			return fmt.Errorf("terminal %s node: %w", tm.MRID, cimerr.DuplicateIdentifierError{MRID: id})
		}
	}
	return nil
}

func (b *Builder) addEnergySource(p *EnergySource) error {
	es := cim.NewEnergySource(p.MRID, p.Name)
	es.ActivePower, es.ReactivePower = p.ActivePower, p.ReactivePower
	es.VoltageAngle, es.VoltageMagnitude = p.VoltageAngle, p.VoltageMagnitude
	es.R, es.X = p.R, p.X
	terms, err := b.addEquipment(es, p.Equipment)
	if err != nil {
		return err
	}
	return b.register(es, p.Equipment, terms)
}

func (b *Builder) addEnergyConsumer(p *EnergyConsumer) error {
	ec := cim.NewEnergyConsumer(p.MRID, p.Name)
	ec.CustomerCount = p.CustomerCount
	ec.Grounded = p.Grounded
	ec.P, ec.Q = p.P, p.Q
	ec.PhaseConnection = cim.ParsePhaseShuntConnectionKind(p.PhaseConnection)
	terms, err := b.addEquipment(ec, p.Equipment)
	if err != nil {
		return err
	}
	return b.register(ec, p.Equipment, terms)
}

func (b *Builder) addPowerTransformer(p *PowerTransformer) error {
	pt := cim.NewPowerTransformer(p.MRID, p.Name)
	pt.VectorGroup = p.VectorGroup
	terms, err := b.addEquipment(pt, p.Equipment)
	if err != nil {
		return err
	}
	for _, em := range p.Ends {
		end := cim.NewPowerTransformerEnd(em.MRID, em.Name, em.EndNumber)
		end.RatedS, end.RatedU = em.RatedS, em.RatedU
		end.R, end.X = em.R, em.X
		end.ConnectionKind = cim.ParsePhaseShuntConnectionKind(em.ConnectionKind)
		if em.TerminalMRID != "" {
			for _, t := range terms {
				if t.MRID() == em.TerminalMRID {
					end.Terminal = t
				}
			}
			if end.Terminal == nil {
				return cimerr.NotFoundError{Kind: "Terminal", Key: em.TerminalMRID}
			}
		}
		if err := pt.AddEnd(end); err != nil {
			return err
		}
	}
	return b.register(pt, p.Equipment, terms)
}

func (b *Builder) addAcLineSegment(p *AcLineSegment) error {
	line := cim.NewAcLineSegment(p.MRID, p.Name)
	line.Length = p.Length
	terms, err := b.addEquipment(line, p.Equipment)
	if err != nil {
		return err
	}
	if err := b.register(line, p.Equipment, terms); err != nil {
		return err
	}
	if id := p.PerLengthSequenceImpedanceMRID; id != "" {
		b.later(func() error {
			z, err := network.Get[*cim.PerLengthSequenceImpedance](b.network, id)
			if err != nil {
				return fmt.Errorf("%s impedance: %w", line, err)
			}
			line.SetPerLengthSequenceImpedance(z)
			return nil
		})
	}
	if id := p.AssetInfoMRID; id != "" {
		b.later(func() error {
			ai, err := network.Get[*cim.AssetInfo](b.network, id)
			if err != nil {
				return fmt.Errorf("%s asset info: %w", line, err)
			}
			line.SetAssetInfo(ai)
			return nil
		})
	}
	return nil
}

func (b *Builder) addBreaker(p *Breaker) error {
	br := cim.NewBreaker(p.MRID, p.Name)
	br.NormalOpen, br.Open = p.NormalOpen, p.Open
	terms, err := b.addEquipment(br, p.Equipment)
	if err != nil {
		return err
	}
	return b.register(br, p.Equipment, terms)
}

func (b *Builder) addUsagePoint(p *UsagePoint) error {
	up := cim.NewUsagePoint(p.MRID, p.Name)
	if err := b.network.Add(up); err != nil {
		return err
	}
	for _, id := range p.EquipmentMRIDs {
		b.later(func() error {
			eq, err := b.network.Equipment(id)
			if err != nil {
				return fmt.Errorf("usage point %s: %w", up.MRID(), err)
			}
			return up.AddEquipment(eq)
		})
	}
	return nil
}

func (b *Builder) addMeter(p *Meter) error {
	mt := cim.NewMeter(p.MRID, p.Name)
	mt.CustomerMRID = p.CustomerMRID
	if err := b.network.Add(mt); err != nil {
		return err
	}
	for _, id := range p.UsagePointMRIDs {
		b.later(func() error {
			up, err := network.Get[*cim.UsagePoint](b.network, id)
			if err != nil {
				return fmt.Errorf("meter %s: %w", mt.MRID(), err)
			}
			return mt.AddUsagePoint(up)
		})
	}
	return nil
}

func (b *Builder) addCustomerAgreement(p *CustomerAgreement) error {
	ca := cim.NewCustomerAgreement(p.MRID, p.Name)
	if p.CustomerMRID != "" {
		c, err := network.Get[*cim.Customer](b.network, p.CustomerMRID)
		if cimerr.IsNotFound(err) {
			c = cim.NewCustomer(p.CustomerMRID, p.CustomerName)
			c.Kind = p.CustomerKind
			err = b.network.Add(c)
		}
		if err != nil {
			return err
		}
		ca.Customer = c
	}
	if err := b.network.Add(ca); err != nil {
		return err
	}
	for _, id := range p.PricingStructureMRIDs {
		b.later(func() error {
			ps, err := network.Get[*cim.PricingStructure](b.network, id)
			if err != nil {
				return fmt.Errorf("%s: %w", ca, err)
			}
			return ca.AddPricingStructure(ps)
		})
	}
	return nil
}

// RetrieveNetwork builds a fresh network over store from src.
func RetrieveNetwork(ctx context.Context, src Source, store *metrics.Store, opts ...Option) (*network.Network, Stats, error) {
	b := NewBuilder(network.New(store), opts...)
	stats, err := b.Build(ctx, src)
	if err != nil {
		return nil, stats, err
	}
	return b.Network(), stats, nil
}
