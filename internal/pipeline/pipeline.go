package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/extract"
	"github.com/shouni/go-forecast-scraper/pkg/fetcher"
	"github.com/shouni/go-forecast-scraper/pkg/monitor"
	"github.com/shouni/go-forecast-scraper/pkg/types"
	"github.com/shouni/go-forecast-scraper/pkg/writer"
)

// ReasonNothingExtracted は、ページは取得できたがレコードが1件も得られなかった場合の理由です。
const ReasonNothingExtracted = "nothing extracted"

// CardParser は、マークアップからレコードを抽出する機能のインターフェースです。
// *extract.Parser がこれを満たします。
type CardParser interface {
	Header() []string
	Parse(markup []byte) (*extract.Result, error)
}

// transition はレポートの状態を to に進めます。許可されていない遷移の場合は ErrInvalidTransition を返します。
func transition(report *types.RunReport, to State, logger logrus.FieldLogger) error {
	from := report.State
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("状態遷移")
	report.State = to
	report.States = append(report.States, to.String())
	return nil
}

// mustTransition は RunOnce 内の常に許可される遷移に使います。
func mustTransition(report *types.RunReport, to State, logger logrus.FieldLogger) {
	if err := transition(report, to, logger); err != nil {
		panic(err)
	}
}

// RunOnce はフェッチとパースを1回だけ実行し、結果をレポートとして返します。
// ファイルへの書き込みは行いません。フェッチやパースの失敗はエラーではなく report.Failures に記録されます。
func RunOnce(ctx context.Context, variant config.Variant, f fetcher.Fetcher, p CardParser, logger logrus.FieldLogger) *types.RunReport {
	logger = orDiscard(logger).WithField("variant", variant.Name)
	report := &types.RunReport{
		Variant:   variant.Name,
		URL:       variant.URL,
		Header:    p.Header(),
		Records:   []types.Record{},
		State:     StateIdle,
		States:    []string{StateIdle.String()},
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	mustTransition(report, StateFetching, logger)
	logger.WithField("url", variant.URL).Info("スクレイピングを開始します")

	page, err := f.Fetch(ctx, variant.URL)
	if err != nil {
		logger.WithError(err).Error("ページを取得できませんでした")
		report.Failures.Add(variant.URL, types.StageFetch, failureReason(err))
		return report
	}
	report.Page = page

	mustTransition(report, StateParsing, logger)
	result, err := p.Parse(page.Body)
	if err != nil {
		logger.WithError(err).Error("ページを解析できませんでした")
		report.Failures.Add(variant.URL, types.StageParse, err.Error())
		return report
	}

	report.CardsFound = result.CardsFound
	report.Skipped = len(result.Skipped)
	report.Records = result.Records

	if len(report.Records) == 0 {
		logger.WithFields(logrus.Fields{
			"cards":   result.CardsFound,
			"skipped": len(result.Skipped),
			"host":    page.Host(),
		}).Warn("ページからデータを1件も抽出できませんでした")
		report.Failures.Add(variant.URL, types.StageParse, ReasonNothingExtracted)
		return report
	}

	logger.WithFields(logrus.Fields{
		"records": len(report.Records),
		"skipped": report.Skipped,
	}).Info("データを抽出しました")
	return report
}

// Paths は1バリアント分の出力先です。空文字列の項目は書き込みません (Records を除く)。
type Paths struct {
	Records    string
	FailureLog string
	DebugHTML  string
	CSV        writer.CSVOptions
}

// PathsFor は設定とバリアントから出力先を組み立てます。
// 相対パスは output_dir 基準で解決します。
func PathsFor(cfg *config.Config, v config.Variant) (Paths, error) {
	delim, err := v.Output.DelimiterRune()
	if err != nil {
		return Paths{}, fmt.Errorf("バリアント %q: %w", v.Name, err)
	}
	return Paths{
		Records:    inDir(cfg.OutputDir, v.Output.File),
		FailureLog: inDir(cfg.OutputDir, cfg.FailureLog),
		DebugHTML:  inDir(cfg.OutputDir, cfg.DebugHTML),
		CSV:        writer.CSVOptions{Delimiter: delim, CRLF: v.Output.CRLF},
	}, nil
}

func inDir(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Persist はレポートの内容をファイルに書き込み、状態を Done まで進めます。
// CSV はレコードが0件でもヘッダーのみで必ず書き込み、失敗ログは失敗がある場合のみ書き込みます。
// 書き込みエラーは *writer.PersistenceError として (複数の場合は結合して) 返します。
// report が Fetching または Parsing 以外の状態の場合は何も書き込まず ErrInvalidTransition を返します。
func Persist(report *types.RunReport, paths Paths, logger logrus.FieldLogger) error {
	logger = orDiscard(logger).WithField("variant", report.Variant)
	if err := transition(report, StatePersisting, logger); err != nil {
		return fmt.Errorf("pipeline.Persist: %w", err)
	}

	var errs []error
	if err := writer.WriteRecords(paths.Records, report.Header, report.Records, paths.CSV); err != nil {
		logger.WithError(err).Error("CSVの書き込みに失敗しました")
		errs = append(errs, err)
	} else {
		logger.WithFields(logrus.Fields{"path": paths.Records, "records": len(report.Records)}).Info("データを保存しました")
	}

	if paths.DebugHTML != "" && report.Page != nil {
		if err := writer.WriteRaw(paths.DebugHTML, report.Page.Body); err != nil {
			logger.WithError(err).Error("デバッグ用HTMLの書き込みに失敗しました")
			errs = append(errs, err)
		} else {
			logger.WithField("path", paths.DebugHTML).Debug("デバッグ用HTMLを保存しました")
		}
	}

	if len(report.Failures) > 0 {
		if err := writer.WriteFailureLog(paths.FailureLog, report.Failures); err != nil {
			logger.WithError(err).Error("失敗ログの書き込みに失敗しました")
			errs = append(errs, err)
		} else {
			logger.WithFields(logrus.Fields{"path": paths.FailureLog, "pages": len(report.Failures)}).Warn("取得できなかったページを失敗ログに保存しました")
		}
	}

	mustTransition(report, StateDone, logger)
	return errors.Join(errs...)
}

// Orchestrator は Fetcher → Parser → Writer を1回分つなぎます。
type Orchestrator struct {
	variant     config.Variant
	fetcher     fetcher.Fetcher
	parser      CardParser
	paths       Paths
	monitor     *monitor.Monitor
	metricsFile string
	logger      logrus.FieldLogger
}

// New は設定から Orchestrator を組み立てます。fetcher はテストでモックに差し替えられます。
func New(cfg *config.Config, variant config.Variant, f fetcher.Fetcher, logger logrus.FieldLogger) (*Orchestrator, error) {
	if f == nil {
		return nil, errors.New("pipeline.New: Fetcher cannot be nil")
	}
	logger = orDiscard(logger)

	parser, err := extract.NewParser(variant, logger)
	if err != nil {
		return nil, err
	}
	paths, err := PathsFor(cfg, variant)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		variant:     variant,
		fetcher:     f,
		parser:      parser,
		paths:       paths,
		monitor:     monitor.New(),
		metricsFile: inDir(cfg.OutputDir, cfg.MetricsFile),
		logger:      logger,
	}, nil
}

// Paths は出力先を返します。
func (o *Orchestrator) Paths() Paths {
	return o.paths
}

// Run は1回分の処理を実行します。
// 返すエラーは書き込みの失敗のみで、フェッチやパースの失敗はレポートの Failures に含まれます。
func (o *Orchestrator) Run(ctx context.Context) (*types.RunReport, error) {
	report := RunOnce(ctx, o.variant, o.fetcher, o.parser, o.logger)
	err := Persist(report, o.paths, o.logger)
	report.FinishedAt = time.Now()

	o.monitor.Observe(report)
	if o.metricsFile != "" {
		if mErr := o.monitor.WriteTextfile(o.metricsFile); mErr != nil {
			o.logger.WithError(mErr).Warn("メトリクスを書き込めませんでした")
		}
	}
	return report, err
}

func failureReason(err error) string {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fmt.Sprintf("%s: %v", fe.Reason, fe.Err)
		}
		return fe.Reason
	}
	return err.Error()
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
