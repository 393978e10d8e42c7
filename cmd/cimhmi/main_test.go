package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/ohowland/cgc_cim/internal/pkg/webservice"
	"github.com/rivo/tview"
	"gotest.tools/v3/assert"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	n := network.New(nil)
	n.Metrics().StoreReadings("m1", "meter", "ec1", []metrics.Reading{
		{Timestamp: 1000, Value: 239.5, Kind: metrics.KindVoltage, Unit: metrics.UnitV},
		{Timestamp: 2000, Value: 240.25, Kind: metrics.KindVoltage, Unit: metrics.UnitV},
		{Timestamp: 2000, Value: 3, Kind: metrics.KindCurrent, Unit: metrics.UnitA},
	})
	n.Metrics().StoreReading("m2", "", "", metrics.Reading{Timestamp: 7000, Value: 230, Kind: metrics.KindVoltage})

	srv := httptest.NewServer((&webservice.App{Network: n}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAndTable(t *testing.T) {
	srv := newServer(t)
	c := &client{base: srv.URL + "/", kind: "VOLTAGE", http: srv.Client()}

	views, err := c.readings()
	assert.NilError(t, err)
	assert.Equal(t, len(views), 2)

	b, err := c.buckets()
	assert.NilError(t, err)
	assert.DeepEqual(t, b.Buckets, []int64{0, 5000})
	assert.Equal(t, statusLine(b, len(views), nil), "2 buckets of 5000 ms, 2 rows")

	table := tview.NewTable()
	fillTable(table, views)
	assert.Equal(t, table.GetRowCount(), 3)
	assert.Equal(t, table.GetCell(0, 1).Text, "Device")
	assert.Equal(t, table.GetCell(1, 0).Text, "00:00:00")
	assert.Equal(t, table.GetCell(1, 1).Text, "m1")
	assert.Equal(t, table.GetCell(1, 4).Text, "2")
	assert.Equal(t, table.GetCell(1, 5).Text, "240.25 V")
	assert.Equal(t, table.GetCell(2, 0).Text, "00:00:05")
}

func TestClientError(t *testing.T) {
	srv := newServer(t)
	c := &client{base: srv.URL, kind: "", http: srv.Client()}

	_, err := c.readings()
	assert.ErrorContains(t, err, "400")
	assert.ErrorContains(t, err, "kind is required")
	assert.Equal(t, statusLine(webservice.BucketsView{}, 0, err)[:5], "[red]")

	c = &client{base: "http://127.0.0.1:1", http: &http.Client{}}
	_, err = c.buckets()
	assert.Assert(t, err != nil)
}
