package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/sensitivity"
	"battery-cost-forecast/internal/service"
)

// Options select the artefacts written next to the CSV tables.
type Options struct {
	Dir    string
	Charts bool
	Excel  bool
}

// Bundle is everything one export writes.
type Bundle struct {
	Result      *service.Result
	Scenarios   []service.ScenarioView
	Sensitivity []sensitivity.Report
}

type output struct {
	name string
	fn   func(io.Writer) error
}

// Exporter writes run results to a directory.
type Exporter struct {
	opts   Options
	logger zerolog.Logger
}

// New returns an Exporter writing under opts.Dir.
func New(opts Options, logger zerolog.Logger) *Exporter {
	if opts.Dir == "" {
		opts.Dir = "out"
	}
	return &Exporter{opts: opts, logger: logger.With().Str("component", "export").Logger()}
}

// Write emits the CSV tables, then the workbook and charts when enabled. It
// returns the paths written in order.
func (e *Exporter) Write(b Bundle) ([]string, error) {
	if b.Result == nil {
		return nil, errors.New("export: no result to write")
	}
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return nil, err
	}
	res := b.Result

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(e.opts.Dir, name)
		if err := writeFile(path, fn); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	files := []output{
		{"prices.csv", func(w io.Writer) error { return WritePrices(w, res.Forecasts) }},
		{"accuracy.csv", func(w io.Writer) error { return WriteAccuracy(w, res.Forecasts, res.Sources) }},
		{"chemistry_monthly.csv", func(w io.Writer) error { return WriteMonthly(w, res.Monthly) }},
		{"chemistry_breakdown.csv", func(w io.Writer) error { return WriteBreakdown(w, res.Monthly) }},
		{"chemistry_annual.csv", func(w io.Writer) error { return WriteAnnual(w, res.Annual) }},
	}
	if len(b.Sensitivity) > 0 {
		files = append(files, output{"tornado.csv", func(w io.Writer) error { return WriteTornado(w, b.Sensitivity) }})
	}
	for _, f := range files {
		if err := write(f.name, f.fn); err != nil {
			return written, err
		}
	}

	for _, view := range b.Scenarios {
		slug := fileSlug(view.Name)
		if err := write("scenario_"+slug+"_monthly.csv", func(w io.Writer) error { return WriteMonthly(w, view.Monthly) }); err != nil {
			return written, err
		}
		if err := write("scenario_"+slug+"_annual.csv", func(w io.Writer) error { return WriteAnnual(w, view.Annual) }); err != nil {
			return written, err
		}
		if len(view.Clamps) > 0 {
			if err := write("scenario_"+slug+"_clamped.csv", func(w io.Writer) error { return WriteClamps(w, view.Clamps) }); err != nil {
				return written, err
			}
		}
	}

	if e.opts.Excel {
		if err := write("battery_costs.xlsx", func(w io.Writer) error { return writeWorkbook(w, workbookSheets(b)) }); err != nil {
			return written, err
		}
	}

	if e.opts.Charts {
		e.writeChart(&written, "chemistry_costs.png", func(w io.Writer) error { return WriteCostChart(w, res.Monthly) })
		for _, r := range b.Sensitivity {
			e.writeChart(&written, "tornado_"+fileSlug(r.ChemistryID)+".png", func(w io.Writer) error { return WriteTornadoChart(w, r) })
		}
	}

	e.logger.Info().Str("dir", e.opts.Dir).Int("files", len(written)).Msg("export complete")
	return written, nil
}

// charts are best effort; an empty series never fails the export
func (e *Exporter) writeChart(written *[]string, name string, fn func(io.Writer) error) {
	path := filepath.Join(e.opts.Dir, name)
	if err := writeFile(path, fn); err != nil {
		_ = os.Remove(path)
		e.logger.Warn().Err(err).Str("chart", name).Msg("chart skipped")
		return
	}
	*written = append(*written, path)
}

func workbookSheets(b Bundle) []sheet {
	res := b.Result
	sheets := []sheet{
		{name: "Monthly", header: monthlyHeader, rows: monthlyRows(res.Monthly)},
		{name: "Annual", header: annualHeader, rows: annualRows(res.Annual)},
		{name: "Breakdown", header: breakdownHeader, rows: breakdownRows(res.Monthly)},
		{name: "Prices", header: pricesHeader, rows: priceRows(res.Forecasts)},
		{name: "Accuracy", header: accuracyHeader, rows: accuracyRows(res.Forecasts, res.Sources)},
	}
	if len(b.Sensitivity) > 0 {
		sheets = append(sheets, sheet{name: "Sensitivity", header: tornadoHeader, rows: tornadoRows(b.Sensitivity)})
	}
	for _, view := range b.Scenarios {
		sheets = append(sheets, sheet{name: "Scenario " + view.Name, header: annualHeader, rows: annualRows(view.Annual)})
	}
	return sheets
}

func writeFile(path string, fn func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func fileSlug(name string) string {
	slug := intensity.NormalizeName(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, slug)
}
