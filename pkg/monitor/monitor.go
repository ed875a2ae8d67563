package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// Monitor は1回の実行のメトリクスを保持します。
// プロセスは実行後すぐに終了するため、node_exporter の textfile collector 向けにファイルへ書き出します。
type Monitor struct {
	Registry *prometheus.Registry

	RecordsExtracted *prometheus.GaugeVec
	CardsFound       *prometheus.GaugeVec
	CardsSkipped     *prometheus.GaugeVec
	PageFailures     *prometheus.GaugeVec
	FetchDuration    *prometheus.GaugeVec
	LastRun          *prometheus.GaugeVec
	LastRunSuccess   *prometheus.GaugeVec
}

// New はメトリクスを専用のレジストリに登録した Monitor を生成します。
func New() *Monitor {
	reg := prometheus.NewRegistry()
	labels := []string{"variant"}
	m := &Monitor{
		Registry: reg,

		RecordsExtracted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_records_extracted",
			Help: "Records extracted in the last run",
		}, labels),

		CardsFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_cards_found",
			Help: "Cards matching the card selector in the last run",
		}, labels),

		CardsSkipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_cards_skipped",
			Help: "Cards skipped because a required field was missing",
		}, labels),

		PageFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_page_failures",
			Help: "Pages written to the failure log in the last run",
		}, labels),

		FetchDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_fetch_duration_seconds",
			Help: "Duration of the HTTP request, excluding the fixed delay",
		}, labels),

		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}, labels),

		LastRunSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_last_run_success",
			Help: "1 if the last run had no page failures",
		}, labels),
	}

	reg.MustRegister(
		m.RecordsExtracted,
		m.CardsFound,
		m.CardsSkipped,
		m.PageFailures,
		m.FetchDuration,
		m.LastRun,
		m.LastRunSuccess,
	)

	return m
}

// Observe は終了した実行のレポートをメトリクスに反映します。report が nil の場合は何もしません。
func (m *Monitor) Observe(report *types.RunReport) {
	if report == nil {
		return
	}
	v := report.Variant
	m.RecordsExtracted.WithLabelValues(v).Set(float64(len(report.Records)))
	m.CardsFound.WithLabelValues(v).Set(float64(report.CardsFound))
	m.CardsSkipped.WithLabelValues(v).Set(float64(report.Skipped))
	m.PageFailures.WithLabelValues(v).Set(float64(len(report.Failures)))
	if report.Page != nil {
		m.FetchDuration.WithLabelValues(v).Set(report.Page.Latency.Seconds())
	}
	m.LastRun.WithLabelValues(v).Set(float64(report.FinishedAt.Unix()))

	success := 0.0
	if report.Succeeded() {
		success = 1
	}
	m.LastRunSuccess.WithLabelValues(v).Set(success)
}

// WriteTextfile はすべてのメトリクスを Prometheus のテキスト形式で path に書き込みます。
func (m *Monitor) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("メトリクスの出力ディレクトリを作成できません: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("メトリクスを書き込めません: %w", err)
	}
	return nil
}
