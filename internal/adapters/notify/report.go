package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// PerformanceFile es el nombre del reporte dentro de output_dir.
const PerformanceFile = "performance.yaml"

// YAMLReport implementa ports.Reporter escribiendo performance.yaml.
type YAMLReport struct {
	dir string
}

// NewYAMLReport crea un reporter que escribe en dir.
func NewYAMLReport(dir string) *YAMLReport {
	return &YAMLReport{dir: dir}
}

type runSection struct {
	RunID          string         `yaml:"run_id"`
	StartedAt      time.Time      `yaml:"started_at"`
	FinishedAt     time.Time      `yaml:"finished_at"`
	Considered     int            `yaml:"considered"`
	Traded         int            `yaml:"traded"`
	Skipped        map[string]int `yaml:"skipped"`
	InitialCapital float64        `yaml:"initial_capital"`
	FinalEquity    float64        `yaml:"final_equity"`
}

type reportDoc struct {
	Run         runSection         `yaml:"run"`
	Performance domain.Performance `yaml:"performance"`
}

// Report serializa el resumen y las métricas.
func (r *YAMLReport) Report(_ context.Context, sum domain.RunSummary, perf domain.Performance) error {
	skipped := make(map[string]int, len(domain.SkipKinds))
	for _, k := range domain.SkipKinds {
		skipped[string(k)] = sum.Skipped[k]
	}
	doc := reportDoc{
		Run: runSection{
			RunID:          sum.RunID,
			StartedAt:      sum.StartedAt.UTC(),
			FinishedAt:     sum.FinishedAt.UTC(),
			Considered:     sum.Considered,
			Traded:         sum.Traded,
			Skipped:        skipped,
			InitialCapital: sum.InitialCapital,
			FinalEquity:    sum.FinalEquity,
		},
		Performance: perf,
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("notify.YAMLReport: marshal: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("notify.YAMLReport: mkdir: %w", err)
	}
	path := filepath.Join(r.dir, PerformanceFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("notify.YAMLReport: write: %w", err)
	}
	slog.Info("performance report written", "file", path)
	return nil
}
