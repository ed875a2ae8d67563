package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-forecast-scraper/internal/pipeline"
	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/types"
	"github.com/shouni/go-forecast-scraper/pkg/writer"
)

func TestEnsureScheme(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"https_kept", "https://www.bmkg.go.id/cuaca", "https://www.bmkg.go.id/cuaca", false},
		{"http_kept", "http://localhost:8080/x", "http://localhost:8080/x", false},
		{"scheme_added", "www.bmkg.go.id/cuaca/prakiraan-cuaca", "https://www.bmkg.go.id/cuaca/prakiraan-cuaca", false},
		{"host_port_without_scheme", "www.bmkg.go.id:443/cuaca", "https://www.bmkg.go.id:443/cuaca", false},
		{"trimmed", "  https://www.bmkg.go.id  ", "https://www.bmkg.go.id", false},
		{"ftp_rejected", "ftp://www.bmkg.go.id", "", true},
		{"empty", "   ", "", true},
		{"no_host", "https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ensureScheme(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func clearScraperEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvOutputDir, config.EnvUserAgent, config.EnvTimeout, config.EnvDelay} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults_without_flags", func(t *testing.T) {
		clearScraperEnv(t)
		cfg, err := loadConfig(AppFlags{}, func(string) bool { return false })
		require.NoError(t, err)
		assert.Equal(t, config.DefaultOutputDir, cfg.OutputDir)
		assert.Equal(t, config.DefaultDelay, cfg.HTTP.Delay.Duration)
	})

	t.Run("changed_flags_override_config_and_env", func(t *testing.T) {
		clearScraperEnv(t)
		t.Setenv(config.EnvTimeout, "30s")
		t.Setenv(config.EnvDelay, "5s")

		flags := AppFlags{
			OutputDir:   "out",
			Delay:       0,
			MetricsFile: "scraper.prom",
			DebugHTML:   "debug_bmkg.html",
		}
		changed := map[string]bool{"output-dir": true, "delay": true, "metrics-file": true, "debug-html": true}

		cfg, err := loadConfig(flags, func(name string) bool { return changed[name] })
		require.NoError(t, err)
		assert.Equal(t, "out", cfg.OutputDir)
		assert.Equal(t, time.Duration(0), cfg.HTTP.Delay.Duration, "フラグは環境変数より優先")
		assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout.Duration, "未指定のフラグは環境変数を維持")
		assert.Equal(t, "scraper.prom", cfg.MetricsFile)
		assert.Equal(t, "debug_bmkg.html", cfg.DebugHTML)
	})

	t.Run("invalid_timeout_flag", func(t *testing.T) {
		clearScraperEnv(t)
		_, err := loadConfig(AppFlags{Timeout: -time.Second}, func(name string) bool { return name == "timeout" })
		assert.Error(t, err)
	})

	t.Run("config_file", func(t *testing.T) {
		clearScraperEnv(t)
		path := filepath.Join(t.TempDir(), "scraper.yaml")
		require.NoError(t, os.WriteFile(path, []byte("output_dir: from-file\nhttp:\n  delay: 0s\n"), 0o644))

		cfg, err := loadConfig(AppFlags{ConfigPath: path}, func(string) bool { return false })
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.OutputDir)
		assert.Equal(t, time.Duration(0), cfg.HTTP.Delay.Duration)
	})

	t.Run("missing_config_file", func(t *testing.T) {
		clearScraperEnv(t)
		_, err := loadConfig(AppFlags{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")}, func(string) bool { return false })
		assert.Error(t, err)
	})
}

func TestCreateLogger(t *testing.T) {
	logger, err := createLogger("json", false)
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger, err = createLogger("text", true)
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = createLogger("xml", false)
	assert.Error(t, err)
}

func TestSelectVariant(t *testing.T) {
	cfg := config.Default()

	v, err := selectVariant(&cfg, "forecast", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bmkg.go.id/cuaca/prakiraan-cuaca.bmkg", v.URL)

	v, err = selectVariant(&cfg, "LINKS", "127.0.0.1:8080/cuaca")
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:8080/cuaca", v.URL)
	assert.Equal(t, "https://127.0.0.1:8080", v.BaseURL, "相対リンクは上書き先のホストで解決する")

	_, err = selectVariant(&cfg, "unknown", "")
	assert.Error(t, err)

	_, err = selectVariant(&cfg, "links", "ftp://example.com")
	assert.Error(t, err)
}

func TestVerifyOutput(t *testing.T) {
	paths := pipeline.Paths{
		Records: filepath.Join(t.TempDir(), "bmkg_cuaca.csv"),
		CSV:     writer.CSVOptions{Delimiter: ';'},
	}
	report := &types.RunReport{
		Header:  []string{"title", "link"},
		Records: []types.Record{types.NewRecord("Jakarta", "https://www.bmkg.go.id/x")},
	}
	require.NoError(t, writer.WriteRecords(paths.Records, report.Header, report.Records, paths.CSV))
	assert.NoError(t, verifyOutput(report, paths))

	report.Records = append(report.Records, types.NewRecord("Bandung", "https://www.bmkg.go.id/y"))
	assert.Error(t, verifyOutput(report, paths))

	report.Records = report.Records[:1]
	report.Header = []string{"Kota", "link"}
	assert.Error(t, verifyOutput(report, paths))
}

func TestPrintSummary(t *testing.T) {
	report := &types.RunReport{
		Variant: "links",
		URL:     "https://www.bmkg.go.id/cuaca/prakiraan-cuaca",
	}
	report.Failures.Add(report.URL, types.StageFetch, "HTTPステータスコード 404")

	var buf bytes.Buffer
	printSummary(&buf, report, pipeline.Paths{Records: "datasets/bmkg_cuaca.csv", FailureLog: "datasets/skipped.json"})

	out := buf.String()
	assert.Contains(t, out, "datasets/bmkg_cuaca.csv")
	assert.Contains(t, out, "datasets/skipped.json")
	assert.Contains(t, out, "fetch: HTTPステータスコード 404")
}

func TestPrintVariants(t *testing.T) {
	cfg := config.Default()

	var buf bytes.Buffer
	printVariants(&buf, &cfg)

	out := buf.String()
	assert.Contains(t, out, "div.prakicu-kota")
	assert.Contains(t, out, "Cuaca=img@alt *")
	assert.Contains(t, out, `"," CRLF`)
	assert.Contains(t, out, `";" LF`)
	assert.Less(t, strings.Index(out, "forecast"), strings.Index(out, "links"), "バリアント名の昇順")
}
