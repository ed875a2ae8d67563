package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	clibase "github.com/shouni/go-cli-base"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/fetcher"
)

// --- グローバル定数 ---

const (
	appName = "forecast-scraper"

	logFormatText = "text"
	logFormatJSON = "json"
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	ConfigPath  string        // --config 設定ファイル (YAML)
	OutputDir   string        // --output-dir 出力ディレクトリ
	Timeout     time.Duration // --timeout HTTPリクエストのタイムアウト
	Delay       time.Duration // --delay リクエスト前の待機時間
	MetricsFile string        // --metrics-file メトリクスの出力先
	DebugHTML   string        // --debug-html 取得したHTMLの保存先
	LogFormat   string        // --log-format text または json
}

var (
	Flags     AppFlags
	appConfig *config.Config
	appLogger *logrus.Logger
)

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&Flags.ConfigPath, "config", "", "設定ファイル (YAML) のパス。省略時は組み込みの設定を使用")
	pf.StringVar(&Flags.OutputDir, "output-dir", config.DefaultOutputDir, "CSVと失敗ログの出力ディレクトリ")
	pf.DurationVar(&Flags.Timeout, "timeout", config.DefaultTimeout, "HTTPリクエストのタイムアウト時間")
	pf.DurationVar(&Flags.Delay, "delay", config.DefaultDelay, "リクエスト前の待機時間")
	pf.StringVar(&Flags.MetricsFile, "metrics-file", "", "Prometheus textfile 形式のメトリクス出力先 (空の場合は出力しない)")
	pf.StringVar(&Flags.DebugHTML, "debug-html", "", "取得したHTMLの保存先 (空の場合は保存しない)")
	pf.StringVar(&Flags.LogFormat, "log-format", logFormatText, "ログの形式 (text または json)")
}

// initAppPreRunE は、clibase共通処理の後に実行される、アプリケーション固有のPersistentPreRunEです。
// NOTE: clibaseの PersistentPreRunE チェーンにより、clibase.Flags.Verbose はこの関数実行前に設定済み
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	// .env が存在しない場合は無視する
	_ = godotenv.Load(".env")

	logger, err := createLogger(Flags.LogFormat, clibase.Flags.Verbose)
	if err != nil {
		return err
	}
	appLogger = logger

	cfg, err := loadConfig(Flags, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	appConfig = cfg

	appLogger.WithFields(logrus.Fields{
		"config":     Flags.ConfigPath,
		"output_dir": cfg.OutputDir,
		"timeout":    cfg.HTTP.Timeout.String(),
		"delay":      cfg.HTTP.Delay.String(),
	}).Debug("設定を読み込みました")
	return nil
}

// loadConfig は設定ファイル、環境変数、フラグの順に設定を重ねます。
// フラグは明示的に指定された場合のみ反映します。
func loadConfig(f AppFlags, changed func(name string) bool) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	cfg.ApplyEnv()

	if changed("output-dir") {
		cfg.OutputDir = f.OutputDir
	}
	if changed("timeout") {
		cfg.HTTP.Timeout = config.DurationFrom(f.Timeout)
	}
	if changed("delay") {
		cfg.HTTP.Delay = config.DurationFrom(f.Delay)
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.MetricsFile
	}
	if changed("debug-html") {
		cfg.DebugHTML = f.DebugHTML
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return cfg, nil
}

func createLogger(format string, verbose bool) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case logFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case logFormatText, "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("未対応のログ形式です: %q (text または json を指定してください)", format)
	}

	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger, nil
}

// newFetcher は設定から HTTPFetcher を生成します。
func newFetcher(cfg *config.Config, logger logrus.FieldLogger) *fetcher.HTTPFetcher {
	return fetcher.New(fetcher.Options{
		UserAgent:    cfg.HTTP.UserAgent,
		Headers:      cfg.HTTP.Headers,
		Timeout:      cfg.HTTP.Timeout.Duration,
		Delay:        cfg.HTTP.Delay.Duration,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, logger)
}

// --- エントリポイント ---

// Execute は、clibase を使用してルートコマンドを実行します。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		runCmd,
		variantsCmd,
	)
}
