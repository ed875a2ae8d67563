package config

// ----------------------------------------------------------------------
// 組み込みバリアント
// ----------------------------------------------------------------------
//
// ここにあるセレクターは対象サイトの現在のマークアップに依存しています。
// サイト側の変更に追従する場合は、このファイルか設定ファイルの variants だけを変更します。

const (
	VariantLinks    = "links"
	VariantForecast = "forecast"

	bmkgBaseURL = "https://www.bmkg.go.id"
)

func defaultVariants() map[string]Variant {
	return map[string]Variant{
		VariantLinks: {
			URL:          bmkgBaseURL + "/cuaca/prakiraan-cuaca",
			BaseURL:      bmkgBaseURL,
			CardSelector: "div.col-md-4.col-sm-6.col-xs-12",
			Fields: []Field{
				{Name: "title", Selector: "h2", Required: true},
				{Name: "link", Selector: "a", Attr: "href", Resolve: true, Required: true},
			},
			Output: OutputConfig{
				File:      "bmkg_cuaca.csv",
				Delimiter: ";",
			},
		},
		VariantForecast: {
			URL:          bmkgBaseURL + "/cuaca/prakiraan-cuaca.bmkg",
			BaseURL:      bmkgBaseURL,
			CardSelector: "div.prakicu-kota",
			Fields: []Field{
				{Name: "Kota", Selector: "h2", Required: true},
				{Name: "Suhu", Selector: "span.heading-md", Required: true},
				{Name: "Cuaca", Selector: "img", Attr: "alt", Required: true},
			},
			Output: OutputConfig{
				File:      "cuaca_bmkg.csv",
				Delimiter: ",",
				CRLF:      true,
			},
		},
	}
}
