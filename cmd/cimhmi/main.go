package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell"
	"github.com/ohowland/cgc_cim/internal/pkg/webservice"
	"github.com/rivo/tview"
)

const logo = `
 __________________________________________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\_
 _/\/\__________/\/\__________/\/\_________
 _/\/\__________/\/\__/\/\/\__/\/\_________
 _/\/\__________/\/\____/\/\__/\/\_________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\_
 __________________________________________
`

var header = []string{"Bucket", "Device", "Name", "PSR", "Readings", "Last"}

type HMI func(*tview.Pages) (title string, content tview.Primitive)

// client reads the query API of a cimnet service.
type client struct {
	base string
	kind string
	http *http.Client
}

func (c *client) getJSON(path string, v interface{}) error {
	resp, err := c.http.Get(strings.TrimSuffix(c.base, "/") + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body := webservice.ErrorBody{}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("GET %s: %s %s", path, resp.Status, body.Message)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *client) readings() ([]webservice.MeterReadingsView, error) {
	views := []webservice.MeterReadingsView{}
	err := c.getJSON("/metrics/readings?kind="+c.kind, &views)
	return views, err
}

func (c *client) buckets() (webservice.BucketsView, error) {
	v := webservice.BucketsView{}
	err := c.getJSON("/metrics/buckets", &v)
	return v, err
}

// fillTable replaces the table body with one row per device aggregate.
func fillTable(table *tview.Table, views []webservice.MeterReadingsView) {
	table.Clear()
	for column, title := range header {
		table.SetCell(0, column, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, v := range views {
		row := i + 1
		last := ""
		if n := len(v.Readings); n > 0 {
			r := v.Readings[n-1]
			last = strconv.FormatFloat(r.Value, 'f', 2, 64) + " " + string(r.Unit)
		}
		cells := []string{
			time.UnixMilli(v.Bucket).UTC().Format(time.TimeOnly),
			v.MRID, v.Name, v.PsrID,
			strconv.Itoa(len(v.Readings)),
			last,
		}
		for column, text := range cells {
			color := tcell.ColorWhite
			if column == 0 {
				color = tcell.ColorDarkCyan
			}
			table.SetCell(row, column, tview.NewTableCell(text).
				SetTextColor(color).
				SetAlign(tview.AlignLeft).
				SetSelectable(true))
		}
	}
}

func statusLine(b webservice.BucketsView, rows int, err error) string {
	if err != nil {
		return "[red]" + err.Error()
	}
	return fmt.Sprintf("%d buckets of %d ms, %d rows", len(b.Buckets), b.Duration, rows)
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "cimnet query API")
	kind := flag.String("kind", "VOLTAGE", "reading kind to display")
	refresh := flag.Duration("refresh", time.Second, "refresh interval")
	flag.Parse()

	c := &client{base: *addr, kind: strings.ToUpper(*kind), http: &http.Client{Timeout: 5 * time.Second}}
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1)
	status := tview.NewTextView().SetDynamicColors(true)

	overview := func(pages *tview.Pages) (string, tview.Primitive) {
		table.SetBorder(true).SetTitle(" " + c.kind + " ")
		table.SetBorders(false).
			SetSelectable(true, false).
			SetSeparator(' ')
		flex := tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(table, 0, 1, true).
			AddItem(status, 1, 0, false)
		return "Overview", flex
	}

	hmis := []HMI{
		Splash,
		overview,
	}

	pages := tview.NewPages()
	for _, hmi := range hmis {
		title, primitive := hmi(pages)
		pages.AddPage(title, primitive, true, title == "Splash")
	}

	go updateScheduler(app, table, status, c, *refresh)
	if err := app.SetRoot(pages, true).Run(); err != nil {
		panic(err)
	}
}

func updateScheduler(app *tview.Application, table *tview.Table, status *tview.TextView, c *client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for ; ; <-ticker.C {
		views, err := c.readings()
		b, berr := c.buckets()
		if err == nil {
			err = berr
		}
		app.QueueUpdateDraw(func() {
			if err == nil {
				fillTable(table, views)
			}
			status.SetText(statusLine(b, len(views), err))
		})
	}
}

func Splash(pages *tview.Pages) (title string, content tview.Primitive) {
	lines := strings.Split(logo, "\n")
	logoWidth := 0
	logoHeight := len(lines)
	for _, line := range lines {
		if len(line) > logoWidth {
			logoWidth = len(line)
		}
	}
	logoBox := tview.NewTextView().
		SetTextColor(tcell.ColorBlue).
		SetDoneFunc(func(key tcell.Key) {
			pages.SwitchToPage("Overview")
		})
	fmt.Fprint(logoBox, logo)

	frame := tview.NewFrame(tview.NewBox()).
		SetBorders(0, 0, 0, 0, 0, 0).
		AddText("CIM Network Monitor", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("press enter", true, tview.AlignCenter, tcell.ColorDarkMagenta)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 5, false).
		AddItem(tview.NewFlex().
			AddItem(tview.NewBox(), 0, 1, false).
			AddItem(logoBox, logoWidth, 1, true).
			AddItem(tview.NewBox(), 0, 1, false), logoHeight, 1, true).
		AddItem(frame, 0, 10, false)

	return "Splash", flex
}
