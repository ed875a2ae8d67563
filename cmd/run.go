package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/shouni/go-forecast-scraper/internal/pipeline"
	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/types"
	"github.com/shouni/go-forecast-scraper/pkg/writer"
)

// コマンドラインフラグ変数を定義
var (
	variantName string // --variant 実行するバリアント
	overrideURL string // --url バリアントのURLを上書き
	verify      bool   // --verify 書き込んだCSVを読み戻して確認
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "天気予報ページを1回スクレイピングし、CSVに保存します",
	Long: `指定したバリアントのページを1回だけ取得し、カードから抽出したデータをCSVに保存します。
取得や抽出に失敗したページのURLは失敗ログ (JSON) に記録されます。
終了コードが 0 以外になるのは、設定エラーまたはファイルの書き込みに失敗した場合のみです。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appConfig == nil || appLogger == nil {
			return fmt.Errorf("設定が初期化されていません。rootコマンドのPreRunを確認してください")
		}

		variant, err := selectVariant(appConfig, variantName, overrideURL)
		if err != nil {
			return err
		}

		orchestrator, err := pipeline.New(appConfig, variant, newFetcher(appConfig, appLogger), appLogger)
		if err != nil {
			return fmt.Errorf("パイプラインの初期化エラー: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		report, runErr := orchestrator.Run(ctx)
		printSummary(cmd.OutOrStdout(), report, orchestrator.Paths())
		if runErr != nil {
			return fmt.Errorf("結果の保存に失敗しました: %w", runErr)
		}

		if verify {
			if err := verifyOutput(report, orchestrator.Paths()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s を読み戻し、%d 件のレコードを確認しました\n", orchestrator.Paths().Records, len(report.Records))
		}
		return nil
	},
}

// selectVariant はバリアントを取り出し、URLの上書きがあれば反映して再検証します。
// 上書きした場合、相対リンクは上書き先のホストを基準に解決されます。
func selectVariant(cfg *config.Config, name, rawURL string) (config.Variant, error) {
	variant, err := cfg.Variant(name)
	if err != nil {
		return config.Variant{}, err
	}
	if rawURL == "" {
		return variant, nil
	}

	processedURL, err := ensureScheme(rawURL)
	if err != nil {
		return config.Variant{}, fmt.Errorf("URLスキームの処理エラー: %w", err)
	}
	variant = variant.WithURL(processedURL)
	if err := variant.Validate(); err != nil {
		return config.Variant{}, fmt.Errorf("バリアント %q: %w", variant.Name, err)
	}
	return variant, nil
}

// verifyOutput は書き込んだCSVを読み戻し、ヘッダーと件数がレポートと一致するかを確認します。
func verifyOutput(report *types.RunReport, paths pipeline.Paths) error {
	header, records, err := writer.ReadRecords(paths.Records, paths.CSV)
	if err != nil {
		return fmt.Errorf("出力の確認に失敗しました: %w", err)
	}
	if strings.Join(header, "\x00") != strings.Join(report.Header, "\x00") {
		return fmt.Errorf("出力の確認に失敗しました: ヘッダーが一致しません (期待: %v, 実際: %v)", report.Header, header)
	}
	if len(records) != len(report.Records) {
		return fmt.Errorf("出力の確認に失敗しました: レコード数が一致しません (期待: %d, 実際: %d)", len(report.Records), len(records))
	}
	return nil
}

// printSummary は実行結果を表形式で出力します。
func printSummary(w io.Writer, report *types.RunReport, paths pipeline.Paths) {
	finalURL := "-"
	if report.Page != nil {
		finalURL = report.Page.FinalURL
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"項目", "値"})
	t.AppendRows([]table.Row{
		{"バリアント", report.Variant},
		{"URL", report.URL},
		{"最終URL", finalURL},
		{"カード数", report.CardsFound},
		{"レコード数", len(report.Records)},
		{"スキップ", report.Skipped},
		{"CSV", paths.Records},
	})
	if len(report.Failures) > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"失敗ログ", paths.FailureLog})
		for _, f := range report.Failures {
			t.AppendRow(table.Row{"❌ " + f.URL, f.String()})
		}
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func init() {
	runCmd.Flags().StringVar(&variantName, "variant", config.VariantLinks,
		fmt.Sprintf("実行するバリアント (%s または %s)", config.VariantLinks, config.VariantForecast))
	runCmd.Flags().StringVarP(&overrideURL, "url", "u", "", "バリアントのURLを上書きする場合に指定 (相対リンクもこのホスト基準で解決)")
	runCmd.Flags().BoolVar(&verify, "verify", false, "書き込んだCSVを読み戻して件数を確認する")
}
