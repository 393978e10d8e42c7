package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
)

func line(mrid string, nodes ...string) *AcLineSegment {
	p := &AcLineSegment{Equipment: Equipment{MRID: mrid}}
	for i, n := range nodes {
		p.Terminals = append(p.Terminals, Terminal{
			MRID:                 mrid + "-t" + string(rune('1'+i)),
			ConnectivityNodeMRID: n,
		})
	}
	return p
}

func TestSkipPolicyIgnoresUnknownRecords(t *testing.T) {
	counter := NewRecordCounter()
	src := NewSliceSource(
		Record{Payload: &EnergySource{Equipment: Equipment{MRID: "es1"}}},
		Record{Payload: Unknown{Name: "zz"}},
		Record{},
		Record{Payload: line("acls1")},
	)

	n, stats, err := RetrieveNetwork(context.Background(), src, nil, WithCounter(counter))
	assert.NilError(t, err)
	assert.Equal(t, stats.Records, 4)
	assert.Equal(t, stats.Applied, 2)
	assert.Equal(t, stats.Skipped, 2)
	assert.Equal(t, stats.ByTag[TagAcLineSegment], 1)
	assert.Equal(t, n.Summary().Equipment, 2)

	assert.Equal(t, testutil.ToFloat64(counter.WithLabelValues("zz", "skipped")), 1.0)
	assert.Equal(t, testutil.ToFloat64(counter.WithLabelValues("none", "skipped")), 1.0)
	assert.Equal(t, testutil.ToFloat64(counter.WithLabelValues("es", "applied")), 1.0)
}

func TestFailPolicyStopsOnUnknownRecord(t *testing.T) {
	src := NewSliceSource(
		Record{Payload: &BaseVoltage{MRID: "bv1", NominalVoltage: 11000}},
		Record{Payload: Unknown{Name: "zz"}},
		Record{Payload: &BaseVoltage{MRID: "bv2"}},
	)
	b := NewBuilder(network.New(nil), WithPolicy(PolicyFail))
	_, err := b.Build(context.Background(), src)

	var unknown cimerr.UnknownDiscriminantError
	assert.Assert(t, errors.As(err, &unknown))
	assert.Equal(t, unknown.Tag, "zz")
	assert.Assert(t, b.Network().Registry().Contains("bv1"))
	assert.Assert(t, !b.Network().Registry().Contains("bv2"))
}

func TestFailPolicyRejectsUnsetPayload(t *testing.T) {
	b := NewBuilder(network.New(nil), WithPolicy(PolicyFail))
	err := b.Apply(Record{})
	var unknown cimerr.UnknownDiscriminantError
	assert.Assert(t, errors.As(err, &unknown))
	assert.Equal(t, unknown.Tag, "")
}

func TestEveryTagIsHandled(t *testing.T) {
	tags := Tags()
	assert.Equal(t, len(tags), 12)
	for _, tag := range tags {
		p, ok := NewPayload(tag)
		assert.Assert(t, ok, tag)
		assert.Equal(t, p.Tag(), tag)

		b := NewBuilder(network.New(nil), WithPolicy(PolicyFail))
		assert.NilError(t, b.Apply(Record{Payload: p}), tag)
		assert.Equal(t, b.Stats().ByTag[tag], 1)
	}
}

func TestReferencesResolveInAnyOrder(t *testing.T) {
	acls := line("acls1", "cn1", "cn2")
	acls.BaseVoltageMRID = "bv1"
	acls.PerLengthSequenceImpedanceMRID = "z1"
	acls.AssetInfoMRID = "ai1"

	src := NewSliceSource(
		Record{Payload: &Meter{MRID: "m1", UsagePointMRIDs: []string{"up1"}}},
		Record{Payload: &UsagePoint{MRID: "up1", EquipmentMRIDs: []string{"acls1", "ec1"}}},
		Record{Payload: acls},
		Record{Payload: &EnergyConsumer{Equipment: Equipment{
			MRID:      "ec1",
			Terminals: []Terminal{{MRID: "ec1-t1", ConnectivityNodeMRID: "cn2"}},
		}}},
		Record{Payload: &CustomerAgreement{MRID: "ca1", CustomerMRID: "c1", PricingStructureMRIDs: []string{"ps1"}}},
		Record{Payload: &PricingStructure{MRID: "ps1", Code: "R1"}},
		Record{Payload: &BaseVoltage{MRID: "bv1", NominalVoltage: 415}},
		Record{Payload: &PerLengthSequenceImpedance{MRID: "z1", R: 0.1}},
		Record{Payload: &AssetInfo{MRID: "ai1", Material: "aluminium"}},
	)

	n, _, err := RetrieveNetwork(context.Background(), src, nil)
	assert.NilError(t, err)

	got, err := network.Get[*cim.AcLineSegment](n, "acls1")
	assert.NilError(t, err)
	assert.Equal(t, got.BaseVoltage().NominalVoltage, 415.0)
	assert.Equal(t, got.PerLengthSequenceImpedance().R, 0.1)
	assert.Equal(t, got.AssetInfo().Material, "aluminium")

	t2, err := got.Terminal(2)
	assert.NilError(t, err)
	assert.Equal(t, t2.BaseVoltage().NominalVoltage, 415.0)

	connected, err := n.Connected("acls1", "ec1")
	assert.NilError(t, err)
	assert.Assert(t, connected)

	m, err := network.Get[*cim.Meter](n, "m1")
	assert.NilError(t, err)
	up, err := m.UsagePoint("up1")
	assert.NilError(t, err)
	assert.Equal(t, up.NumEquipment(), 2)

	ca, err := network.Get[*cim.CustomerAgreement](n, "ca1")
	assert.NilError(t, err)
	assert.Equal(t, ca.Customer.MRID(), "c1")
	ps, err := ca.PricingStructure("ps1")
	assert.NilError(t, err)
	assert.Equal(t, ps.Code, "R1")
}

func TestUnresolvedReferenceFails(t *testing.T) {
	acls := line("acls1")
	acls.BaseVoltageMRID = "missing"
	src := NewSliceSource(
		Record{Payload: acls},
		Record{Payload: &Meter{MRID: "m1", UsagePointMRIDs: []string{"nope"}}},
	)

	n, _, err := RetrieveNetwork(context.Background(), src, nil)
	assert.Assert(t, n == nil)
	assert.Assert(t, cimerr.IsNotFound(err))
	assert.ErrorContains(t, err, "missing")
	assert.ErrorContains(t, err, "nope")
}

func TestDuplicateRecordFails(t *testing.T) {
	src := NewSliceSource(
		Record{Payload: &BaseVoltage{MRID: "bv1"}},
		Record{Payload: &BaseVoltage{MRID: "bv1"}},
	)
	_, _, err := RetrieveNetwork(context.Background(), src, nil)
	var dup cimerr.DuplicateIdentifierError
	assert.Assert(t, errors.As(err, &dup))
	assert.Equal(t, dup.MRID, "bv1")
}

func TestNodeCollisionLeavesNoEquipment(t *testing.T) {
	n := network.New(nil)
	b := NewBuilder(n)
	assert.NilError(t, b.Apply(Record{Payload: &BaseVoltage{MRID: "n1"}}))
	before := n.Summary()

	br := &Breaker{Equipment: line("br1", "n0", "n1").Equipment}
	err := b.Apply(Record{Payload: br})
	var dup cimerr.DuplicateIdentifierError
	assert.Assert(t, errors.As(err, &dup))
	assert.Equal(t, dup.MRID, "n1")

	_, err = n.Lookup("br1")
	assert.Assert(t, cimerr.IsNotFound(err))
	assert.Assert(t, !n.Registry().Contains("br1-t1"))
	assert.Assert(t, !n.Registry().Contains("n0"))
	assert.Equal(t, len(n.TerminalsAt("n0")), 0)
	assert.DeepEqual(t, n.Summary(), before)

	self := line("acls1", "acls1-t2", "cn1")
	err = b.Apply(Record{Payload: self})
	assert.Assert(t, errors.As(err, &dup))
	assert.Equal(t, dup.MRID, "acls1-t2")
	assert.DeepEqual(t, n.Summary(), before)

	assert.NilError(t, b.Apply(Record{Payload: &Breaker{Equipment: line("br1", "n0", "n2").Equipment}}))
	assert.Equal(t, n.Summary().Equipment, before.Equipment+1)
}

func TestPowerTransformerEnds(t *testing.T) {
	pt := &PowerTransformer{
		Equipment: Equipment{MRID: "pt1", Terminals: []Terminal{
			{MRID: "pt1-t2", SequenceNumber: 2, ConnectivityNodeMRID: "lv"},
			{MRID: "pt1-t1", SequenceNumber: 1, ConnectivityNodeMRID: "hv"},
		}},
		VectorGroup: "Dyn11",
		Ends: []PowerTransformerEnd{
			{MRID: "pt1-e2", EndNumber: 2, RatedU: 415, ConnectionKind: "Yn", TerminalMRID: "pt1-t2"},
			{MRID: "pt1-e1", EndNumber: 1, RatedU: 11000, ConnectionKind: "D", TerminalMRID: "pt1-t1"},
		},
	}
	n, _, err := RetrieveNetwork(context.Background(), NewSliceSource(Record{Payload: pt}), nil)
	assert.NilError(t, err)

	got, err := network.Get[*cim.PowerTransformer](n, "pt1")
	assert.NilError(t, err)
	ends := got.Ends()
	assert.Equal(t, len(ends), 2)
	assert.Equal(t, ends[0].MRID(), "pt1-e1")
	assert.Equal(t, ends[0].ConnectionKind, cim.PhaseShuntD)
	assert.Equal(t, ends[1].Terminal.ConnectivityNodeID(), "lv")
	assert.Assert(t, n.Registry().Contains("pt1-e2"))

	pt.MRID = "pt2"
	pt.Terminals = nil
	_, _, err = RetrieveNetwork(context.Background(), NewSliceSource(Record{Payload: pt}), nil)
	assert.Assert(t, cimerr.IsNotFound(err))
}

func TestInvalidPhasesRejected(t *testing.T) {
	p := line("acls1")
	p.Terminals = []Terminal{{MRID: "t1", Phases: "QQ"}}
	b := NewBuilder(network.New(nil))
	assert.ErrorContains(t, b.Apply(Record{Payload: p}), "invalid phases")
}

type blockingSource struct {
	calls int
}

func (s *blockingSource) Next(ctx context.Context) (Record, error) {
	s.calls++
	return Record{Payload: &BaseVoltage{}}, nil
}

func TestCancelStopsBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &blockingSource{}
	_, err := NewBuilder(network.New(nil)).Build(ctx, src)
	assert.Assert(t, errors.Is(err, context.Canceled))
	assert.Equal(t, src.calls, 0)
}

func TestBuildFromJSONLines(t *testing.T) {
	input := strings.Join([]string{
		`{"bv": {"MRID": "bv1", "NominalVoltage": 11000}}`,
		`{"es": {"MRID": "es1", "BaseVoltageMRID": "bv1", "Terminals": [{"MRID": "es1-t1", "ConnectivityNodeMRID": "cn1"}]}}`,
		`{"br": {"MRID": "br1", "Open": true, "Terminals": [{"MRID": "br1-t1", "Phases": "abc", "ConnectivityNodeMRID": "cn1"}, {"MRID": "br1-t2", "ConnectivityNodeMRID": "cn2"}]}}`,
		`{"future": {"MRID": "x"}}`,
		`{}`,
	}, "\n")

	n, stats, err := RetrieveNetwork(context.Background(), NewDecoderSource(strings.NewReader(input)), nil)
	assert.NilError(t, err)
	assert.Equal(t, stats.Skipped, 2)

	br, err := network.Get[*cim.Breaker](n, "br1")
	assert.NilError(t, err)
	assert.Assert(t, br.Open)
	connected, err := n.Connected("es1", "br1")
	assert.NilError(t, err)
	assert.Assert(t, connected)
	assert.Equal(t, len(n.TerminalsAt("cn1")), 2)
}
