package webservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"gotest.tools/v3/assert"
)

func newApp(t *testing.T) *App {
	t.Helper()
	n := network.New(nil)

	bv := cim.NewBaseVoltage("bv1", "LV", 415)
	assert.NilError(t, n.Add(bv))

	ec := cim.NewEnergyConsumer("ec1", "house")
	ec.SetBaseVoltage(bv)
	t1 := cim.NewTerminal("ec1-t1", "")
	t1.SequenceNumber = 1
	assert.NilError(t, ec.AddTerminal(t1))
	assert.NilError(t, n.Add(ec))
	assert.NilError(t, n.Connect(t1, "cn1"))

	ca := cim.NewCustomerAgreement("ca1", "residential")
	ps := cim.NewPricingStructure("ps1", "flat")
	ps.Code = "A1"
	assert.NilError(t, ca.AddPricingStructure(ps))
	assert.NilError(t, n.Add(ca))

	store := n.Metrics()
	store.StoreReadings("m1", "meter", "ec1", []metrics.Reading{
		{Timestamp: 100, Value: 240, Kind: metrics.KindVoltage, Unit: metrics.UnitV},
		{Timestamp: 200, Value: 5, Kind: metrics.KindCurrent, Unit: metrics.UnitA},
	})
	store.StoreReading("m1", "meter", "ec1", metrics.Reading{Timestamp: 6000, Value: 241, Kind: metrics.KindVoltage})

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(store))
	return &App{Network: n, Gatherer: reg}
}

func get(t *testing.T, app *App, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com"+url, nil)
	app.Router().ServeHTTP(w, r)
	return w
}

func TestBaseGet(t *testing.T) {
	w := get(t, newApp(t), "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=UTF-8", w.Header().Get("Content-Type"))

	s := network.Summary{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, s.Equipment, 1)
	assert.Equal(t, s.Terminals, 1)
	assert.Equal(t, s.ConnectivityNodes, 1)
}

func TestObjectGet(t *testing.T) {
	app := newApp(t)

	w := get(t, app, "/objects/ec1")
	assert.Equal(t, http.StatusOK, w.Code)
	v := ObjectView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, v.Type, "EnergyConsumer")
	assert.Equal(t, v.Name, "house")
	assert.Equal(t, v.BaseVoltage, 415.0)
	assert.DeepEqual(t, v.Terminals, []string{"ec1-t1"})

	w = get(t, app, "/objects/ec1-t1")
	v = ObjectView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, v.Type, "Terminal")
	assert.Equal(t, v.Node, "cn1")
}

func TestObjectNotFound(t *testing.T) {
	w := get(t, newApp(t), "/objects/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := ErrorBody{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, body.Code, "NOT_FOUND")
	assert.Assert(t, strings.Contains(body.Message, "missing"))
}

func TestTerminalsGet(t *testing.T) {
	app := newApp(t)
	w := get(t, app, "/equipment/ec1/terminals")
	assert.Equal(t, http.StatusOK, w.Code)

	views := []TerminalView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Equal(t, len(views), 1)
	assert.Equal(t, views[0].MRID, "ec1-t1")
	assert.Equal(t, views[0].SequenceNumber, 1)
	assert.Equal(t, views[0].Phases, cim.PhaseCodeABC)
	assert.Equal(t, views[0].ConnectivityNode, "cn1")

	w = get(t, app, "/equipment/bv1/terminals")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPricingStructureGet(t *testing.T) {
	app := newApp(t)
	w := get(t, app, "/agreements/ca1/pricingstructures/ps1")
	assert.Equal(t, http.StatusOK, w.Code)

	v := PricingStructureView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, v.Code, "A1")
	assert.Equal(t, v.Agreement, "ca1")

	w = get(t, app, "/agreements/ca1/pricingstructures/ps9")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBucketsGet(t *testing.T) {
	w := get(t, newApp(t), "/metrics/buckets")
	assert.Equal(t, http.StatusOK, w.Code)

	v := BucketsView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, v.Duration, metrics.DefaultBucketDuration)
	assert.DeepEqual(t, v.Buckets, []int64{0, 5000})
}

func TestReadingsGet(t *testing.T) {
	app := newApp(t)
	w := get(t, app, "/metrics/readings?kind=voltage")
	assert.Equal(t, http.StatusOK, w.Code)

	views := []MeterReadingsView{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Equal(t, len(views), 2)
	assert.Equal(t, views[0].Bucket, int64(0))
	assert.Equal(t, views[1].Bucket, int64(5000))
	assert.Equal(t, len(views[0].Readings), 1)
	assert.Equal(t, views[0].Readings[0].Value, 240.0)

	w = get(t, app, "/metrics/readings")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadingsPost(t *testing.T) {
	app := newApp(t)
	body, err := json.Marshal(ReadingBatch{
		MRID:     "m2",
		Readings: []metrics.Reading{{Timestamp: 10, Value: 50, Kind: metrics.KindFrequency, Unit: metrics.UnitHz}},
	})
	assert.NilError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/metrics/readings", bytes.NewBuffer(body))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=UTF-8", w.Header().Get("Content-Type"))

	_, ok := app.Network.Metrics().Get(0, "m2")
	assert.Assert(t, ok)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("POST", "http://example.com/metrics/readings", strings.NewReader(`{"Readings": []}`))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeMeter struct {
	written map[string]float64
	err     error
}

func (m *fakeMeter) WriteRegisters(values map[string]float64) error {
	m.written = values
	return m.err
}

func postRegisters(t *testing.T, app *App, mrid, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/meters/"+mrid+"/registers", strings.NewReader(body))
	app.Router().ServeHTTP(w, r)
	return w
}

func TestRegistersPost(t *testing.T) {
	app := newApp(t)
	meter := &fakeMeter{}
	app.Meters = map[string]RegisterWriter{"m1": meter}

	w := postRegisters(t, app, "m1", `{"demand_reset": 1}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.DeepEqual(t, meter.written, map[string]float64{"demand_reset": 1})

	w = postRegisters(t, app, "m9", `{"demand_reset": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postRegisters(t, app, "m1", `{"demand_reset": "yes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	meter.err = cimerr.NotFoundError{Kind: "writable register", Key: "volts"}
	w = postRegisters(t, app, "m1", `{"volts": 240}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Assert(t, strings.Contains(w.Body.String(), "volts"), w.Body.String())
}

func TestDebugMetrics(t *testing.T) {
	w := get(t, newApp(t), "/debug/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Assert(t, strings.Contains(w.Body.String(), "cgc_cim_metrics_readings_total 3"), w.Body.String())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOf(nil), http.StatusOK)
	assert.Equal(t, StatusOf(cimerr.DuplicateIdentifierError{MRID: "x"}), http.StatusConflict)
	assert.Equal(t, StatusOf(cimerr.AlreadyOwnedError{MRID: "t"}), http.StatusPreconditionFailed)
	assert.Equal(t, StatusOf(cimerr.UnknownDiscriminantError{}), http.StatusBadRequest)
	assert.Equal(t, StatusOf(errors.New("boom")), http.StatusInternalServerError)
}

func replay(t *testing.T, app *App, query string) []MeterReadingsView {
	t.Helper()
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/metrics/replay"+query, nil)
	assert.NilError(t, err)
	defer conn.Close()

	var views []MeterReadingsView
	for {
		v := MeterReadingsView{}
		err := conn.ReadJSON(&v)
		if err != nil {
			assert.Assert(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			return views
		}
		views = append(views, v)
	}
}

func TestReplay(t *testing.T) {
	app := newApp(t)

	views := replay(t, app, "")
	assert.Equal(t, len(views), 2)
	assert.Equal(t, views[0].Bucket, int64(0))
	assert.Equal(t, len(views[0].Readings), 2)
	assert.Equal(t, views[1].Bucket, int64(5000))

	views = replay(t, app, "?kind=CURRENT")
	assert.Equal(t, len(views), 1)
	assert.Equal(t, views[0].Readings[0].Kind, metrics.KindCurrent)
}
