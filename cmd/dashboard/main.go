// Command dashboard serves a read-only viewer over persisted monitoring
// artifacts: the master leaderboard and per-team session histories. It
// never writes; sessions own the artifacts.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/roadwatch/internal/httputil"
	"github.com/banshee-data/roadwatch/internal/ledger"
	"github.com/banshee-data/roadwatch/internal/monitoring"
)

type server struct {
	board   ledger.Ledger
	history *ledger.HistoryWriter
}

func main() {
	listen := flag.String("listen", ":8077", "address to serve the dashboard on")
	output := flag.String("output", "results", "artifact directory written by monitor sessions")
	flag.Parse()

	s := &server{
		board:   ledger.NewCSVLedger(filepath.Join(*output, "leaderboard.csv")),
		history: ledger.NewHistoryWriter(filepath.Join(*output, "violation_detection")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboardJSON)
	mux.HandleFunc("/api/history", s.handleHistoryJSON)
	mux.HandleFunc("/charts/leaderboard", s.handleLeaderboardChart)
	mux.HandleFunc("/charts/history", s.handleHistoryChart)
	mux.HandleFunc("/trend.png", s.handleTrendPNG)

	srv := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("dashboard: shutdown: %v", err)
		}
	}()

	monitoring.Logf("dashboard: serving %s on %s", *output, *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		monitoring.Logf("dashboard: server error: %v", err)
		os.Exit(1)
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Roadwatch Dashboard</title></head>
<body style="font-family: sans-serif; background: #1e1e1e; color: #ddd;">
<h1>Roadwatch Dashboard</h1>
<ul>
  <li><a href="/charts/leaderboard" style="color:#6ece58">Leaderboard (current vs lowest)</a></li>
%s</ul>
<p>JSON: <a href="/api/leaderboard" style="color:#6ece58">/api/leaderboard</a>,
/api/history?team=&lt;name&gt;, /trend.png?team=&lt;name&gt;</p>
</body>
</html>`

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "no such page")
		return
	}
	teams, err := s.history.Teams()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list teams: %v", err))
		return
	}
	var items bytes.Buffer
	for _, team := range teams {
		safe := html.EscapeString(team)
		fmt.Fprintf(&items,
			"  <li><a href=\"/charts/history?team=%s\" style=\"color:#6ece58\">%s history</a> "+
				"(<a href=\"/trend.png?team=%s\" style=\"color:#6ece58\">trend</a>)</li>\n",
			safe, safe, safe)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML, items.String())
}

func (s *server) handleLeaderboardJSON(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Entries()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read leaderboard: %v", err))
		return
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *server) handleHistoryJSON(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	if team == "" {
		httputil.BadRequest(w, "missing team parameter")
		return
	}
	rows, err := s.history.Sessions(team)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read history: %v", err))
		return
	}
	if rows == nil {
		httputil.NotFound(w, "no history for team")
		return
	}
	httputil.WriteJSONOK(w, rows)
}

// handleLeaderboardChart renders current vs lowest totals per team as a
// grouped bar chart.
func (s *server) handleLeaderboardChart(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Entries()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read leaderboard: %v", err))
		return
	}
	if len(entries) == 0 {
		httputil.NotFound(w, "leaderboard is empty")
		return
	}

	teams := make([]string, 0, len(entries))
	current := make([]opts.BarData, 0, len(entries))
	lowest := make([]opts.BarData, 0, len(entries))
	for _, e := range entries {
		teams = append(teams, e.Team)
		current = append(current, opts.BarData{Value: e.Current.Total()})
		lowest = append(lowest, opts.BarData{Value: e.LowestTotal})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Leaderboard", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Violation Leaderboard", Subtitle: fmt.Sprintf("teams=%d (lower is better)", len(entries))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(teams).
		AddSeries("current total", current,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("lowest total", lowest,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHistoryChart renders one team's per-session category totals as
// line series over session index.
func (s *server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	if team == "" {
		httputil.BadRequest(w, "missing team parameter")
		return
	}
	rows, err := s.history.Sessions(team)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read history: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, "no history for team")
		return
	}

	x := make([]string, 0, len(rows))
	lane := make([]opts.LineData, 0, len(rows))
	coll := make([]opts.LineData, 0, len(rows))
	red := make([]opts.LineData, 0, len(rows))
	total := make([]opts.LineData, 0, len(rows))
	for i, row := range rows {
		t := row.Totals()
		x = append(x, fmt.Sprintf("#%d", i+1))
		lane = append(lane, opts.LineData{Value: t.Lane})
		coll = append(coll, opts.LineData{Value: t.Collisions})
		red = append(red, opts.LineData{Value: t.RedLight})
		total = append(total, opts.LineData{Value: t.Total()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session History", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Session History", Subtitle: fmt.Sprintf("team=%s sessions=%d", ledger.NormalizeTeam(team), len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("lane", lane).
		AddSeries("collision", coll).
		AddSeries("red light", red).
		AddSeries("total", total)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrendPNG renders a team's total violations per session as a static
// PNG, suitable for embedding in reports.
func (s *server) handleTrendPNG(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	if team == "" {
		httputil.BadRequest(w, "missing team parameter")
		return
	}
	rows, err := s.history.Sessions(team)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read history: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, "no history for team")
		return
	}

	pts := make(plotter.XYs, 0, len(rows))
	for i, row := range rows {
		pts = append(pts, plotter.XY{X: float64(i + 1), Y: float64(row.Totals().Total())})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Total violations per session: %s", ledger.NormalizeTeam(team))
	p.X.Label.Text = "session"
	p.Y.Label.Text = "violations"

	trend, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("build trend line: %v", err))
		return
	}
	trend.Width = vg.Points(1)
	p.Add(trend, plotter.NewGrid())

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render trend: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("dashboard: write trend png: %v", err)
	}
}
