package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const dateLayout = "2006-01-02"

// Config es la configuración completa del backtest.
type Config struct {
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Trading   TradingConfig   `yaml:"trading"`
	Fees      FeesConfig      `yaml:"fees"`
	Symbols   SymbolsConfig   `yaml:"symbols"`
	Output    OutputConfig    `yaml:"output"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Data      DataConfig      `yaml:"data"`
	Filters   FiltersConfig   `yaml:"filters"`
	Report    ReportConfig    `yaml:"report"`
	Log       LogConfig       `yaml:"log"`
}

// AnalysisConfig define el rango de fechas del backtest (YYYY-MM-DD, ambos inclusive).
type AnalysisConfig struct {
	StartDate        string `yaml:"start_date"`
	EndDate          string `yaml:"end_date"`
	DurationDays     int    `yaml:"duration_days"`      // si end_date está vacío: start + duration
	RunAnalysisFirst bool   `yaml:"run_analysis_first"` // el timeline lo genera un proceso externo
}

// TradingConfig controla capital, ventana VWAP y buffers de slippage.
type TradingConfig struct {
	InitialCapital    float64 `yaml:"initial_capital"`
	VWAPWindowMinutes int     `yaml:"vwap_window_minutes"`
	EntryBufferPct    float64 `yaml:"entry_buffer_pct"`
	ExitBufferPct     float64 `yaml:"exit_buffer_pct"`
}

// FeesConfig son las comisiones por lado. EntrySide elige cuál se cobra al
// entrar ("taker" por defecto); la salida usa la otra.
type FeesConfig struct {
	MakerFee  float64 `yaml:"maker_fee"`
	TakerFee  float64 `yaml:"taker_fee"`
	EntrySide string  `yaml:"entry_side"`
}

// SymbolsConfig filtra el universo de símbolos.
type SymbolsConfig struct {
	IncludeAll bool     `yaml:"include_all"`
	Whitelist  []string `yaml:"symbol_whitelist"`
	Exclude    []string `yaml:"exclude_symbols"`
}

// OutputConfig controla qué se escribe en disco.
type OutputConfig struct {
	Dir                string `yaml:"output_dir"`
	SaveDetailedTrades bool   `yaml:"save_detailed_trades"`
	SaveEquityCurve    bool   `yaml:"save_equity_curve"`
	GeneratePlots      bool   `yaml:"generate_plots"` // sin renderer: solo se avisa
}

// ExchangesConfig asigna los venues A y B y parametriza sus clients.
type ExchangesConfig struct {
	A                  string        `yaml:"a"`
	B                  string        `yaml:"b"`
	BinanceBase        string        `yaml:"binance_base"`
	BybitBase          string        `yaml:"bybit_base"`
	BinanceConcurrency int           `yaml:"binance_concurrency"`
	BybitConcurrency   int           `yaml:"bybit_concurrency"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// DataConfig controla las fuentes de datos y la cache de velas.
type DataConfig struct {
	SignalsPath     string  `yaml:"signals_path"` // CSV o directorio de timelines
	CacheDSN        string  `yaml:"cache_dsn"`    // archivo SQLite, o ":memory:"
	MinCoverage     float64 `yaml:"min_coverage"`
	MaxGapMinutes   int     `yaml:"max_gap_minutes"`
	MergeGapMinutes int     `yaml:"merge_gap_minutes"`
}

// FiltersConfig son umbrales opcionales sobre las señales; 0 = desactivado.
type FiltersConfig struct {
	MinDurationHours float64 `yaml:"min_duration_hours"`
	MinRateDiff      float64 `yaml:"min_rate_diff"`
}

// ReportConfig parametriza el analyzer.
type ReportConfig struct {
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	PeriodsPerYear float64 `yaml:"periods_per_year"`
	Period         string  `yaml:"period"` // day | month
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default devuelve la configuración por defecto. Load parte de ella, así que
// las claves ausentes del YAML conservan estos valores.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{StartDate: "2025-08-07", EndDate: "2025-11-05"},
		Trading:  TradingConfig{InitialCapital: 100000, VWAPWindowMinutes: 5},
		Fees:     FeesConfig{MakerFee: 0.0002, TakerFee: 0.0004, EntrySide: "taker"},
		Symbols:  SymbolsConfig{IncludeAll: true},
		Output:   OutputConfig{Dir: "backtest_results", SaveDetailedTrades: true, SaveEquityCurve: true},
		Exchanges: ExchangesConfig{
			A: "bybit", B: "binance",
			BinanceConcurrency: 8, BybitConcurrency: 4,
			RequestTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			SignalsPath:     "data/funding_rate_timeline",
			CacheDSN:        "fundarb.db",
			MinCoverage:     domain.DefaultMinCoverage,
			MaxGapMinutes:   int(domain.DefaultMaxGap / time.Minute),
			MergeGapMinutes: 60,
		},
		Report: ReportConfig{PeriodsPerYear: 252, Period: "month"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Con path vacío solo se aplican defaults y variables de entorno.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FUNDARB_CACHE_DSN"); v != "" {
		cfg.Data.CacheDSN = v
	}
	if v := os.Getenv("FUNDARB_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
}

// setDefaults rellena los campos que el YAML dejó vacíos de forma explícita.
// Los valores fuera de rango no se corrigen: los rechaza Validate.
func setDefaults(cfg *Config) {
	def := Default()
	if cfg.Fees.EntrySide == "" {
		cfg.Fees.EntrySide = def.Fees.EntrySide
	}
	if cfg.Exchanges.A == "" {
		cfg.Exchanges.A = def.Exchanges.A
	}
	if cfg.Exchanges.B == "" {
		cfg.Exchanges.B = def.Exchanges.B
	}
	if cfg.Exchanges.RequestTimeout <= 0 {
		cfg.Exchanges.RequestTimeout = def.Exchanges.RequestTimeout
	}
	if cfg.Data.CacheDSN == "" {
		cfg.Data.CacheDSN = def.Data.CacheDSN
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = def.Output.Dir
	}
	if cfg.Report.Period == "" {
		cfg.Report.Period = def.Report.Period
	}
	if cfg.Report.PeriodsPerYear == 0 {
		cfg.Report.PeriodsPerYear = def.Report.PeriodsPerYear
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	cfg.Exchanges.A = strings.ToLower(cfg.Exchanges.A)
	cfg.Exchanges.B = strings.ToLower(cfg.Exchanges.B)
}

// Validate rechaza valores fuera de rango. Todos los errores envuelven
// domain.ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if start, end, err := c.dates(); err != nil {
		errs = append(errs, err)
	} else if !start.Before(end) {
		bad("analysis: start_date %s must be before end_date %s", c.Analysis.StartDate, c.Analysis.EndDate)
	}
	if c.Analysis.DurationDays < 0 {
		bad("analysis.duration_days must be >= 0, got %d", c.Analysis.DurationDays)
	}

	if c.Trading.InitialCapital <= 0 {
		bad("trading.initial_capital must be > 0, got %v", c.Trading.InitialCapital)
	}
	if c.Trading.VWAPWindowMinutes <= 0 {
		bad("trading.vwap_window_minutes must be > 0, got %d", c.Trading.VWAPWindowMinutes)
	}
	for name, v := range map[string]float64{
		"trading.entry_buffer_pct": c.Trading.EntryBufferPct,
		"trading.exit_buffer_pct":  c.Trading.ExitBufferPct,
		"fees.maker_fee":           c.Fees.MakerFee,
		"fees.taker_fee":           c.Fees.TakerFee,
	} {
		if v < 0 || v > 1 {
			bad("%s must be in [0, 1], got %v", name, v)
		}
	}
	if c.Fees.EntrySide != "taker" && c.Fees.EntrySide != "maker" {
		bad("fees.entry_side must be taker or maker, got %q", c.Fees.EntrySide)
	}

	if !c.Symbols.IncludeAll && len(c.Symbols.Whitelist) == 0 {
		bad("symbols: include_all is false and symbol_whitelist is empty")
	}

	for _, ex := range []string{c.Exchanges.A, c.Exchanges.B} {
		if ex != "binance" && ex != "bybit" {
			bad("exchanges: unsupported exchange %q", ex)
		}
	}
	if c.Exchanges.A == c.Exchanges.B {
		bad("exchanges: a and b must differ, both are %q", c.Exchanges.A)
	}
	if c.Exchanges.BinanceConcurrency <= 0 || c.Exchanges.BybitConcurrency <= 0 {
		bad("exchanges: concurrency must be > 0 (binance=%d bybit=%d)",
			c.Exchanges.BinanceConcurrency, c.Exchanges.BybitConcurrency)
	}

	if c.Data.SignalsPath == "" {
		bad("data.signals_path is required")
	}
	if c.Data.MinCoverage <= 0 || c.Data.MinCoverage > 1 {
		bad("data.min_coverage must be in (0, 1], got %v", c.Data.MinCoverage)
	}
	if c.Data.MaxGapMinutes <= 0 {
		bad("data.max_gap_minutes must be > 0, got %d", c.Data.MaxGapMinutes)
	}
	if c.Data.MergeGapMinutes < 0 {
		bad("data.merge_gap_minutes must be >= 0, got %d", c.Data.MergeGapMinutes)
	}

	if c.Filters.MinDurationHours < 0 || c.Filters.MinRateDiff < 0 {
		bad("filters: thresholds must be >= 0")
	}

	if c.Report.PeriodsPerYear <= 0 {
		bad("report.periods_per_year must be > 0, got %v", c.Report.PeriodsPerYear)
	}
	if c.Report.Period != "day" && c.Report.Period != "month" {
		bad("report.period must be day or month, got %q", c.Report.Period)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// dates parsea el rango configurado. end es el inicio del día end_date.
func (c *Config) dates() (start, end time.Time, err error) {
	start, err = time.ParseInLocation(dateLayout, c.Analysis.StartDate, time.UTC)
	if err != nil {
		return start, end, fmt.Errorf("analysis.start_date %q: want YYYY-MM-DD", c.Analysis.StartDate)
	}
	if c.Analysis.EndDate == "" && c.Analysis.DurationDays > 0 {
		return start, start.AddDate(0, 0, c.Analysis.DurationDays), nil
	}
	end, err = time.ParseInLocation(dateLayout, c.Analysis.EndDate, time.UTC)
	if err != nil {
		return start, end, fmt.Errorf("analysis.end_date %q: want YYYY-MM-DD", c.Analysis.EndDate)
	}
	return start, end, nil
}

// Range devuelve [inicio de start_date, último milisegundo de end_date].
// Solo válido tras Validate.
func (c *Config) Range() (start, end time.Time) {
	start, end, _ = c.dates()
	return start, end.Add(24*time.Hour - time.Millisecond)
}

// Venues devuelve la asignación A/B de exchanges.
func (c *Config) Venues() domain.Venues {
	return domain.Venues{A: domain.Exchange(c.Exchanges.A), B: domain.Exchange(c.Exchanges.B)}
}

// VWAPWindow devuelve la ventana VWAP como time.Duration.
func (c *Config) VWAPWindow() time.Duration {
	return time.Duration(c.Trading.VWAPWindowMinutes) * time.Minute
}

// FeeSchedule devuelve las comisiones de entrada y salida según EntrySide.
func (c *Config) FeeSchedule() domain.FeeSchedule {
	if c.Fees.EntrySide == "maker" {
		return domain.FeeSchedule{EntryRate: c.Fees.MakerFee, ExitRate: c.Fees.TakerFee}
	}
	return domain.FeeSchedule{EntryRate: c.Fees.TakerFee, ExitRate: c.Fees.MakerFee}
}

// Slippage devuelve los buffers de entrada y salida.
func (c *Config) Slippage() domain.Slippage {
	return domain.Slippage{EntryPct: c.Trading.EntryBufferPct, ExitPct: c.Trading.ExitBufferPct}
}

// CompletenessRules devuelve las reglas de validación de la cache.
func (c *Config) CompletenessRules() domain.CompletenessRules {
	return domain.CompletenessRules{
		MinCoverage: c.Data.MinCoverage,
		MaxGap:      time.Duration(c.Data.MaxGapMinutes) * time.Minute,
	}
}

// MergeGap devuelve la distancia máxima para fusionar rangos de descarga.
func (c *Config) MergeGap() time.Duration {
	return time.Duration(c.Data.MergeGapMinutes) * time.Minute
}
