package storage

// sqlite.go — cache durable de velas e historial de ejecuciones.
//
// Estrategia:
//   - `bar_cache`: una fila por (symbol, exchange, rango). Las velas van en un
//     BLOB binario (codec.go). La clave es determinística, así que re-ejecutar
//     con los mismos rangos reutiliza lo ya descargado.
//   - Put es atómico: la fila nueva y el borrado de las entradas que quedan
//     contenidas en su rango van en la misma transacción.
//   - `runs`: una fila por backtest con el resumen y las métricas principales.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS bar_cache (
    cache_key    TEXT PRIMARY KEY,
    symbol       TEXT    NOT NULL,
    exchange     TEXT    NOT NULL,
    range_start  INTEGER NOT NULL,
    range_end    INTEGER NOT NULL,
    fetched_at   TEXT    NOT NULL,
    complete     INTEGER NOT NULL DEFAULT 0,
    coverage     REAL    NOT NULL DEFAULT 0,
    max_gap_ms   INTEGER NOT NULL DEFAULT 0,
    expected     INTEGER NOT NULL DEFAULT 0,
    actual       INTEGER NOT NULL DEFAULT 0,
    reason       TEXT    NOT NULL DEFAULT '',
    bars         BLOB    NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_id            TEXT PRIMARY KEY,
    started_at        TEXT    NOT NULL,
    finished_at       TEXT    NOT NULL,
    considered        INTEGER NOT NULL DEFAULT 0,
    traded            INTEGER NOT NULL DEFAULT 0,
    skipped_ambiguous INTEGER NOT NULL DEFAULT 0,
    skipped_data      INTEGER NOT NULL DEFAULT 0,
    skipped_vwap      INTEGER NOT NULL DEFAULT 0,
    initial_capital   REAL    NOT NULL DEFAULT 0,
    final_equity      REAL    NOT NULL DEFAULT 0,
    total_pnl         REAL    NOT NULL DEFAULT 0,
    return_pct        REAL    NOT NULL DEFAULT 0,
    win_rate          REAL    NOT NULL DEFAULT 0,
    sharpe            REAL    NOT NULL DEFAULT 0,
    max_drawdown_pct  REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cache_range ON bar_cache(symbol, exchange, range_start, range_end);
CREATE INDEX IF NOT EXISTS idx_runs_at     ON runs(started_at DESC);
`

// SQLiteStorage implementa ports.BarCache y ports.RunStorage usando SQLite
// (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Lookup devuelve la entrada más amplia que contiene [start, end).
func (s *SQLiteStorage) Lookup(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) (domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT range_start, range_end, fetched_at, complete, coverage, max_gap_ms,
		       expected, actual, reason, bars
		FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND range_start <= ? AND range_end >= ?
		ORDER BY (range_end - range_start) DESC, fetched_at DESC
		LIMIT 1
	`, symbol, string(exchange), start.UnixMilli(), end.UnixMilli())

	entry, err := scanEntry(row, symbol, exchange)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("storage.Lookup: %s/%s: %w", symbol, exchange, err)
	}
	return entry, true, nil
}

// Overlapping combina las velas de todas las entradas que solapan [start, end).
// Las entradas más recientes ganan en timestamps duplicados.
func (s *SQLiteStorage) Overlapping(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bars FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND range_start < ? AND range_end > ?
		ORDER BY fetched_at DESC
	`, symbol, string(exchange), end.UnixMilli(), start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.Overlapping: query: %w", err)
	}
	defer rows.Close()

	var merged []domain.Bar
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("storage.Overlapping: scan row: %w", err)
		}
		bars, err := decodeBars(blob)
		if err != nil {
			return nil, fmt.Errorf("storage.Overlapping: %s/%s: %w", symbol, exchange, err)
		}
		merged = domain.MergeBars(merged, domain.SliceBars(bars, start, end))
	}
	return merged, rows.Err()
}

// Put guarda la entrada y elimina las entradas contenidas en su rango, en una
// sola transacción.
func (s *SQLiteStorage) Put(ctx context.Context, entry domain.CacheEntry) error {
	k := entry.Key
	v := entry.Validation

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Put: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND range_start >= ? AND range_end <= ? AND cache_key <> ?
	`, k.Symbol, string(k.Exchange), k.Start.UnixMilli(), k.End.UnixMilli(), k.String()); err != nil {
		return fmt.Errorf("storage.Put: prune covered: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bar_cache
			(cache_key, symbol, exchange, range_start, range_end, fetched_at,
			 complete, coverage, max_gap_ms, expected, actual, reason, bars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			complete   = excluded.complete,
			coverage   = excluded.coverage,
			max_gap_ms = excluded.max_gap_ms,
			expected   = excluded.expected,
			actual     = excluded.actual,
			reason     = excluded.reason,
			bars       = excluded.bars
	`,
		k.String(), k.Symbol, string(k.Exchange), k.Start.UnixMilli(), k.End.UnixMilli(),
		formatTime(entry.FetchedAt),
		boolInt(v.Complete), v.Coverage, v.MaxGap.Milliseconds(), v.Expected, v.Actual, v.Reason,
		encodeBars(entry.Series.Bars),
	); err != nil {
		return fmt.Errorf("storage.Put: upsert %s: %w", k, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Put: commit: %w", err)
	}
	return nil
}

// SaveRun persiste el resumen de una ejecución.
func (s *SQLiteStorage) SaveRun(ctx context.Context, sum domain.RunSummary, perf domain.Performance) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, started_at, finished_at, considered, traded,
			 skipped_ambiguous, skipped_data, skipped_vwap,
			 initial_capital, final_equity, total_pnl, return_pct,
			 win_rate, sharpe, max_drawdown_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.RunID, formatTime(sum.StartedAt), formatTime(sum.FinishedAt), sum.Considered, sum.Traded,
		sum.Skipped[domain.SkipAmbiguousDirection], sum.Skipped[domain.SkipDataUnavailable], sum.Skipped[domain.SkipVWAPInvalid],
		sum.InitialCapital, sum.FinalEquity, sum.TotalPnL, sum.ReturnPct,
		perf.WinRate, perf.Sharpe, perf.MaxDrawdownPct,
	); err != nil {
		return fmt.Errorf("storage.SaveRun: insert %s: %w", sum.RunID, err)
	}
	return nil
}

// RecentRuns devuelve las últimas ejecuciones, la más reciente primero.
func (s *SQLiteStorage) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, considered, traded,
		       skipped_ambiguous, skipped_data, skipped_vwap,
		       initial_capital, final_equity, total_pnl, return_pct
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentRuns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var sum domain.RunSummary
		var startedAt, finishedAt string
		var amb, data, vwap int
		if err := rows.Scan(
			&sum.RunID, &startedAt, &finishedAt, &sum.Considered, &sum.Traded,
			&amb, &data, &vwap,
			&sum.InitialCapital, &sum.FinalEquity, &sum.TotalPnL, &sum.ReturnPct,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentRuns: scan row: %w", err)
		}
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		sum.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		sum.Skipped = map[domain.SkipKind]int{
			domain.SkipAmbiguousDirection: amb,
			domain.SkipDataUnavailable:    data,
			domain.SkipVWAPInvalid:        vwap,
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func scanEntry(row *sql.Row, symbol string, exchange domain.Exchange) (domain.CacheEntry, error) {
	var (
		startMs, endMs, maxGapMs int64
		fetchedAt                string
		complete                 int
		blob                     []byte
		v                        domain.Validation
	)
	if err := row.Scan(&startMs, &endMs, &fetchedAt, &complete, &v.Coverage, &maxGapMs,
		&v.Expected, &v.Actual, &v.Reason, &blob); err != nil {
		return domain.CacheEntry{}, err
	}
	bars, err := decodeBars(blob)
	if err != nil {
		return domain.CacheEntry{}, err
	}
	v.Complete = complete == 1
	v.MaxGap = time.Duration(maxGapMs) * time.Millisecond

	e := domain.CacheEntry{
		Key: domain.CacheKey{
			Symbol:   symbol,
			Exchange: exchange,
			Start:    time.UnixMilli(startMs).UTC(),
			End:      time.UnixMilli(endMs).UTC(),
		},
		Series:     domain.BarSeries{Symbol: symbol, Exchange: exchange, Bars: bars},
		Validation: v,
	}
	e.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt)
	return e, nil
}

// timeLayout tiene ancho fijo para que ORDER BY sobre el texto sea cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
