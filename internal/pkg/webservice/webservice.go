// Package webservice exposes a network and its metrics store over HTTP.
package webservice

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/code"
)

// Config is the listen configuration of the query API.
type Config struct {
	URL  string `json:"URL" yaml:"url"`
	Port string `json:"Port" yaml:"port"`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	port := c.Port
	if port == "" {
		port = "8080"
	}
	return c.URL + ":" + port
}

// RegisterWriter accepts named register values for one metering device.
type RegisterWriter interface {
	WriteRegisters(map[string]float64) error
}

// App serves read access to a network. Gatherer backs /debug/metrics and
// defaults to the default Prometheus registry. Meters, keyed by device mRID,
// receive register writes.
type App struct {
	Network  *network.Network
	Gatherer prometheus.Gatherer
	Meters   map[string]RegisterWriter
	Log      *zap.Logger

	upgrader websocket.Upgrader
}

func (app *App) logger() *zap.Logger {
	if app.Log == nil {
		return zap.NewNop()
	}
	return app.Log.Named("webservice")
}

func (app *App) Router() *mux.Router {
	gatherer := app.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/", app.BaseHandler).Methods("GET")
	r.HandleFunc("/objects/{mrid}", app.ObjectHandler).Methods("GET")
	r.HandleFunc("/equipment/{mrid}/terminals", app.TerminalsHandler).Methods("GET")
	r.HandleFunc("/agreements/{mrid}/pricingstructures/{psid}", app.PricingStructureHandler).Methods("GET")
	r.HandleFunc("/metrics/buckets", app.BucketsHandler).Methods("GET")
	r.HandleFunc("/metrics/readings", app.ReadingsHandler).Methods("GET", "POST")
	r.HandleFunc("/metrics/replay", app.ReplayHandler).Methods("GET")
	r.HandleFunc("/meters/{mrid}/registers", app.RegistersHandler).Methods("POST")
	r.Handle("/debug/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// StatusOf maps an error onto an HTTP status through its canonical code.
func StatusOf(err error) int {
	switch cimerr.Code(err) {
	case code.Code_OK:
		return http.StatusOK
	case code.Code_NOT_FOUND:
		return http.StatusNotFound
	case code.Code_ALREADY_EXISTS:
		return http.StatusConflict
	case code.Code_FAILED_PRECONDITION:
		return http.StatusPreconditionFailed
	case code.Code_INVALID_ARGUMENT:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (app *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		app.logger().Error("malformed JSON", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		app.logger().Warn("write response", zap.Error(err))
	}
}

func (app *App) writeError(w http.ResponseWriter, status int, c code.Code, err error) {
	app.writeJSON(w, status, ErrorBody{Code: c.String(), Message: err.Error()})
}

func (app *App) fail(w http.ResponseWriter, err error) {
	app.writeError(w, StatusOf(err), cimerr.Code(err), err)
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	app.writeJSON(w, http.StatusOK, app.Network.Summary())
}

// ObjectView describes any identified object.
type ObjectView struct {
	MRID        string   `json:"MRID"`
	Name        string   `json:"Name"`
	Type        string   `json:"Type"`
	Terminals   []string `json:"Terminals,omitempty"`
	BaseVoltage float64  `json:"BaseVoltage,omitempty"`
	Node        string   `json:"ConnectivityNode,omitempty"`
}

func typeName(obj identity.IdentifiedObject) string {
	t := fmt.Sprintf("%T", obj)
	return t[strings.LastIndex(t, ".")+1:]
}

func newObjectView(obj identity.IdentifiedObject) ObjectView {
	v := ObjectView{MRID: obj.MRID(), Name: obj.Name(), Type: typeName(obj)}
	switch o := obj.(type) {
	case cim.Equipment:
		ce := o.Conducting()
		for _, t := range ce.Terminals() {
			v.Terminals = append(v.Terminals, t.MRID())
		}
		if bv := ce.BaseVoltage(); bv != nil {
			v.BaseVoltage = bv.NominalVoltage
		}
	case *cim.Terminal:
		v.Node = o.ConnectivityNodeID()
		if bv := o.BaseVoltage(); bv != nil {
			v.BaseVoltage = bv.NominalVoltage
		}
	case *cim.BaseVoltage:
		v.BaseVoltage = o.NominalVoltage
	}
	return v
}

func (app *App) ObjectHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	obj, err := app.Network.Lookup(mux.Vars(r)["mrid"])
	if err != nil {
		app.fail(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, newObjectView(obj))
}

// TerminalView describes one terminal of a piece of equipment.
type TerminalView struct {
	MRID             string        `json:"MRID"`
	Name             string        `json:"Name"`
	SequenceNumber   int           `json:"SequenceNumber"`
	Phases           cim.PhaseCode `json:"Phases"`
	ConnectivityNode string        `json:"ConnectivityNode"`
}

func (app *App) TerminalsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	eq, err := app.Network.Equipment(mux.Vars(r)["mrid"])
	if err != nil {
		app.fail(w, err)
		return
	}
	views := []TerminalView{}
	for _, t := range eq.Conducting().Terminals() {
		views = append(views, TerminalView{
			MRID:             t.MRID(),
			Name:             t.Name(),
			SequenceNumber:   t.SequenceNumber,
			Phases:           t.Phases,
			ConnectivityNode: t.ConnectivityNodeID(),
		})
	}
	app.writeJSON(w, http.StatusOK, views)
}

// PricingStructureView describes a pricing structure of an agreement.
type PricingStructureView struct {
	MRID      string `json:"MRID"`
	Name      string `json:"Name"`
	Code      string `json:"Code"`
	Agreement string `json:"Agreement"`
}

func (app *App) PricingStructureHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	ca, err := network.Get[*cim.CustomerAgreement](app.Network, vars["mrid"])
	if err != nil {
		app.fail(w, err)
		return
	}
	ps, err := ca.PricingStructure(vars["psid"])
	if err != nil {
		app.fail(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, PricingStructureView{
		MRID: ps.MRID(), Name: ps.Name(), Code: ps.Code, Agreement: ca.MRID(),
	})
}

// BucketsView lists the populated buckets of the metrics store.
type BucketsView struct {
	Duration int64   `json:"Duration"`
	Buckets  []int64 `json:"Buckets"`
}

func (app *App) BucketsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	store := app.Network.Metrics()
	buckets := store.Buckets()
	if buckets == nil {
		buckets = []int64{}
	}
	app.writeJSON(w, http.StatusOK, BucketsView{Duration: store.BucketDuration(), Buckets: buckets})
}

// MeterReadingsView is the readings one device reported in one bucket.
type MeterReadingsView struct {
	MRID     string            `json:"MRID"`
	Name     string            `json:"Name"`
	PsrID    string            `json:"PsrID"`
	Bucket   int64             `json:"Bucket"`
	Readings []metrics.Reading `json:"Readings"`
}

func newMeterReadingsView(m *metrics.MeterReadings) MeterReadingsView {
	return MeterReadingsView{MRID: m.MRID, Name: m.Name, PsrID: m.PsrID, Bucket: m.Bucket, Readings: m.All()}
}

// ReadingBatch is the body accepted by POST /metrics/readings.
type ReadingBatch struct {
	MRID     string            `json:"MRID"`
	Name     string            `json:"Name"`
	PsrID    string            `json:"PsrID"`
	Readings []metrics.Reading `json:"Readings"`
}

func (app *App) ReadingsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	store := app.Network.Metrics()
	switch r.Method {
	case "GET":
		kind := metrics.ReadingKind(strings.ToUpper(r.URL.Query().Get("kind")))
		if kind == "" {
			app.writeError(w, http.StatusBadRequest, code.Code_INVALID_ARGUMENT, fmt.Errorf("query parameter kind is required"))
			return
		}
		views := []MeterReadingsView{}
		for _, m := range store.Readings(kind) {
			views = append(views, newMeterReadingsView(m))
		}
		app.writeJSON(w, http.StatusOK, views)

	case "POST":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			app.writeError(w, http.StatusBadRequest, code.Code_INVALID_ARGUMENT, err)
			return
		}
		batch := ReadingBatch{}
		if err := json.Unmarshal(body, &batch); err != nil {
			app.writeError(w, http.StatusBadRequest, code.Code_INVALID_ARGUMENT, fmt.Errorf("malformed JSON: %w", err))
			return
		}
		if batch.MRID == "" {
			app.writeError(w, http.StatusBadRequest, code.Code_INVALID_ARGUMENT, fmt.Errorf("MRID is required"))
			return
		}
		store.StoreReadings(batch.MRID, batch.Name, batch.PsrID, batch.Readings)
		app.logger().Debug("readings posted", zap.String("meter", batch.MRID), zap.Int("count", len(batch.Readings)))
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// RegistersHandler writes a JSON object of register names and values to a
// polled meter.
func (app *App) RegistersHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	mrid := mux.Vars(r)["mrid"]
	meter, ok := app.Meters[mrid]
	if !ok {
		app.fail(w, cimerr.NotFoundError{Kind: "meter", Key: mrid})
		return
	}
	values := map[string]float64{}
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		app.writeError(w, http.StatusBadRequest, code.Code_INVALID_ARGUMENT, fmt.Errorf("malformed JSON: %w", err))
		return
	}
	if err := meter.WriteRegisters(values); err != nil {
		app.fail(w, err)
		return
	}
	app.logger().Info("registers written", zap.String("meter", mrid), zap.Int("count", len(values)))
	w.WriteHeader(http.StatusNoContent)
}

// ReplayHandler upgrades to a websocket and sends every device aggregate in
// ascending bucket order, then closes the connection normally.
func (app *App) ReplayHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger().Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	store := app.Network.Metrics()
	seq := store.Ascending()
	if kind := metrics.ReadingKind(strings.ToUpper(r.URL.Query().Get("kind"))); kind != "" {
		seq = slices.Values(store.Readings(kind))
	}
	for m := range seq {
		if err := conn.WriteJSON(newMeterReadingsView(m)); err != nil {
			app.logger().Warn("replay aborted", zap.Error(err))
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of replay")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		app.logger().Warn("replay close", zap.Error(err))
	}
}
