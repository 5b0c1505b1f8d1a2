package csvio

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// timelinePattern es el nombre de los ficheros de señales por símbolo.
const timelinePattern = "funding_rate_timeline_*.csv"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// SignalReader lee el timeline de señales desde un CSV o un directorio de CSVs.
// Las columnas por exchange usan el nombre configurado de cada venue
// ({a}_rate, {b}_pay, ...).
type SignalReader struct {
	path   string
	venues domain.Venues
}

// NewSignalReader crea un reader para path (fichero o directorio).
func NewSignalReader(path string, venues domain.Venues) *SignalReader {
	return &SignalReader{path: path, venues: venues}
}

// Signals implementa ports.SignalSource.
func (r *SignalReader) Signals(ctx context.Context) ([]domain.Signal, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("csvio.Signals: %w", err)
	}

	files := []string{r.path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(r.path, timelinePattern))
		if err != nil {
			return nil, fmt.Errorf("csvio.Signals: glob: %w", err)
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("csvio.Signals: no %s files in %s", timelinePattern, r.path)
		}
	}

	var all []domain.Signal
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sigs, err := r.readFile(f)
		if err != nil {
			return nil, fmt.Errorf("csvio.Signals: %s: %w", filepath.Base(f), err)
		}
		all = append(all, sigs...)
	}

	slog.Info("signals loaded", "files", len(files), "rows", len(all))
	return all, nil
}

func (r *SignalReader) readFile(path string) ([]domain.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.read(f, symbolFromFilename(path))
}

// read parsea un CSV con cabecera. fallbackSymbol se usa si no hay columna symbol.
func (r *SignalReader) read(in io.Reader, fallbackSymbol string) ([]domain.Signal, error) {
	cr := csv.NewReader(in)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := r.columns(header, fallbackSymbol != "")
	if err != nil {
		return nil, err
	}

	var out []domain.Signal
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s, err := cols.parse(rec, fallbackSymbol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// columnIndex guarda la posición de cada columna; -1 = ausente.
type columnIndex struct {
	timestamp, symbol                 int
	intervalA, intervalB, mismatch    int
	rateA, rateB, rateDiff            int
	tradable, payA, payB, durationHrs int
}

func (r *SignalReader) columns(header []string, symbolOptional bool) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(names ...string) int {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i
			}
		}
		return -1
	}

	a, b := string(r.venues.A), string(r.venues.B)
	c := columnIndex{
		timestamp:   find("timestamp", "datetime"),
		symbol:      find("symbol"),
		intervalA:   find(a + "_interval"),
		intervalB:   find(b + "_interval"),
		mismatch:    find("mismatch_type"),
		rateA:       find(a+"_rate", a+"_funding_rate"),
		rateB:       find(b+"_rate", b+"_funding_rate"),
		rateDiff:    find("rate_diff"),
		tradable:    find("tradable"),
		payA:        find(a + "_pay"),
		payB:        find(b + "_pay"),
		durationHrs: find("duration_hours"),
	}

	required := map[string]int{
		"timestamp": c.timestamp, "tradable": c.tradable,
		a + "_rate": c.rateA, b + "_rate": c.rateB,
		a + "_pay": c.payA, b + "_pay": c.payB,
	}
	if !symbolOptional {
		required["symbol"] = c.symbol
	}
	var missing []string
	for name, i := range required {
		if i < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return c, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

func (c columnIndex) parse(rec []string, fallbackSymbol string) (domain.Signal, error) {
	get := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var s domain.Signal
	var err error
	if s.Timestamp, err = parseTimestamp(get(c.timestamp)); err != nil {
		return s, err
	}
	s.Symbol = get(c.symbol)
	if s.Symbol == "" {
		s.Symbol = fallbackSymbol
	}
	s.IntervalA = get(c.intervalA)
	s.IntervalB = get(c.intervalB)
	s.MismatchType = get(c.mismatch)

	if s.RateA, err = parseFloat(get(c.rateA), "rate A"); err != nil {
		return s, err
	}
	if s.RateB, err = parseFloat(get(c.rateB), "rate B"); err != nil {
		return s, err
	}
	if s.RateDiff, err = parseFloat(get(c.rateDiff), "rate_diff"); err != nil {
		return s, err
	}
	if s.DurationHours, err = parseFloat(get(c.durationHrs), "duration_hours"); err != nil {
		return s, err
	}
	if s.Tradable, err = parseBool(get(c.tradable), "tradable"); err != nil {
		return s, err
	}
	if s.PaysA, err = parseBool(get(c.payA), "pay A"); err != nil {
		return s, err
	}
	if s.PaysB, err = parseBool(get(c.payB), "pay B"); err != nil {
		return s, err
	}
	return s, nil
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC().Truncate(time.Minute), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Truncate(time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// parseFloat acepta vacío como 0 (columna opcional o valor ausente).
func parseFloat(v, field string) (float64, error) {
	if v == "" || strings.EqualFold(v, "nan") {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return f, nil
}

func parseBool(v, field string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}

// symbolFromFilename extrae BTCUSDT de funding_rate_timeline_BTCUSDT.csv.
func symbolFromFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	const prefix = "funding_rate_timeline_"
	if !strings.HasPrefix(name, prefix) {
		return ""
	}
	return strings.TrimPrefix(name, prefix)
}
