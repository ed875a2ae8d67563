package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/shouni/go-forecast-scraper/pkg/config"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "設定されているバリアントとセレクターを一覧表示します",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appConfig == nil {
			return fmt.Errorf("設定が初期化されていません。rootコマンドのPreRunを確認してください")
		}
		printVariants(cmd.OutOrStdout(), appConfig)
		return nil
	},
}

func printVariants(w io.Writer, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"バリアント", "URL", "カード", "フィールド", "区切り", "出力"})

	for _, name := range cfg.VariantNames() {
		v := cfg.Variants[name]
		t.AppendRow(table.Row{name, v.URL, v.CardSelector, describeFields(v.Fields), delimiterLabel(v.Output), v.Output.File})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

// describeFields は "name=selector@attr" の形式でフィールドを1行ずつ並べます。必須項目には * を付けます。
func describeFields(fields []config.Field) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		s := f.Name + "=" + f.Selector
		if f.Attr != "" {
			s += "@" + f.Attr
		}
		if f.Required {
			s += " *"
		}
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}

func delimiterLabel(o config.OutputConfig) string {
	eol := "LF"
	if o.CRLF {
		eol = "CRLF"
	}
	return fmt.Sprintf("%q %s", o.Delimiter, eol)
}
