package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent はボット判定を避けるためのブラウザ互換 User-Agent です。
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"

	DefaultOutputDir    = "datasets"
	DefaultFailureLog   = "skipped.json"
	DefaultTimeout      = 10 * time.Second
	DefaultDelay        = 2 * time.Second
	DefaultMaxRedirects = 10
	DefaultMaxBodyBytes = int64(10 * 1024 * 1024) // 10MB
)

// Config はスクレイパー全体の設定です。
type Config struct {
	OutputDir   string             `yaml:"output_dir"`
	FailureLog  string             `yaml:"failure_log"`
	MetricsFile string             `yaml:"metrics_file"`
	DebugHTML   string             `yaml:"debug_html"`
	HTTP        HTTPConfig         `yaml:"http"`
	Variants    map[string]Variant `yaml:"variants"`
}

// HTTPConfig は Fetcher の振る舞いを制御します。
type HTTPConfig struct {
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      Duration          `yaml:"timeout"`
	Delay        Duration          `yaml:"delay"`
	MaxRedirects int               `yaml:"max_redirects"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
}

// Variant は1種類のページに対するセレクターと出力形式の組です。
// セレクターは対象サイトのマークアップとの外部契約であり、ここ以外には持ちません。
type Variant struct {
	Name         string       `yaml:"-"`
	URL          string       `yaml:"url"`
	BaseURL      string       `yaml:"base_url"`
	CardSelector string       `yaml:"card_selector"`
	Fields       []Field      `yaml:"fields"`
	Output       OutputConfig `yaml:"output"`
}

// Field はカード内の1項目の取り出し方です。
// Attr が空の場合は要素のテキストを、そうでなければ属性値を取り出します。
type Field struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Resolve  bool   `yaml:"resolve"`
	Required bool   `yaml:"required"`
}

// OutputConfig は CSV 出力の契約 (ファイル名、区切り文字、改行コード) です。
type OutputConfig struct {
	File      string `yaml:"file"`
	Delimiter string `yaml:"delimiter"`
	CRLF      bool   `yaml:"crlf"`
}

// Default は組み込みのバリアントを含む既定の設定を返します。
func Default() Config {
	cfg := Config{
		OutputDir:  DefaultOutputDir,
		FailureLog: DefaultFailureLog,
		HTTP: HTTPConfig{
			UserAgent: DefaultUserAgent,
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "id-ID,id;q=0.9,en;q=0.8",
			},
			Timeout:      DurationFrom(DefaultTimeout),
			Delay:        DurationFrom(DefaultDelay),
			MaxRedirects: DefaultMaxRedirects,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Variants: defaultVariants(),
	}
	cfg.normalise()
	return cfg
}

// Load は YAML ファイルを読み込み、既定値にマージして検証します。
// path が空の場合は既定の設定を検証して返します。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルを開けません: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFromReader は任意の Reader から設定を読み込みます。
// ファイル内のバリアントは同名の組み込みバリアントを丸ごと置き換えます。
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("設定のデコードに失敗しました: %w", err)
	}
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Variant は名前でバリアントを取り出します。
func (c *Config) Variant(name string) (Variant, error) {
	v, ok := c.Variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("未定義のバリアントです: %q (利用可能: %s)", name, strings.Join(c.VariantNames(), ", "))
	}
	return v, nil
}

// VariantNames はバリアント名を昇順で返します。
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.Variants))
	for name := range c.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate は設定の不変条件を検査します。
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output_dir を指定してください")
	}
	if c.FailureLog == "" {
		return errors.New("failure_log を指定してください")
	}
	if c.HTTP.UserAgent == "" {
		return errors.New("http.user_agent を指定してください")
	}
	if c.HTTP.Timeout.Duration <= 0 {
		return fmt.Errorf("http.timeout は正の値である必要があります (指定値: %s)", c.HTTP.Timeout)
	}
	if c.HTTP.Delay.Duration < 0 {
		return fmt.Errorf("http.delay は 0 以上である必要があります (指定値: %s)", c.HTTP.Delay)
	}
	if c.HTTP.MaxRedirects < 1 {
		return fmt.Errorf("http.max_redirects は 1 以上である必要があります (指定値: %d)", c.HTTP.MaxRedirects)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes は正の値である必要があります (指定値: %d)", c.HTTP.MaxBodyBytes)
	}
	if len(c.Variants) == 0 {
		return errors.New("バリアントが1つも定義されていません")
	}
	for _, name := range c.VariantNames() {
		if err := c.Variants[name].Validate(); err != nil {
			return fmt.Errorf("variants.%s: %w", name, err)
		}
	}
	return nil
}

// Validate はバリアント単体の不変条件を検査します。
func (v Variant) Validate() error {
	if err := validateHTTPURL(v.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if err := validateHTTPURL(v.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if err := compileSelector(v.CardSelector); err != nil {
		return fmt.Errorf("card_selector: %w", err)
	}
	if len(v.Fields) == 0 {
		return errors.New("fields が空です")
	}

	seen := make(map[string]struct{}, len(v.Fields))
	required := 0
	for i, f := range v.Fields {
		if f.Name == "" {
			return fmt.Errorf("fields[%d]: name が空です", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("fields[%d]: name %q が重複しています", i, f.Name)
		}
		seen[f.Name] = struct{}{}
		if err := compileSelector(f.Selector); err != nil {
			return fmt.Errorf("fields[%d].selector: %w", i, err)
		}
		if f.Resolve && f.Attr == "" {
			return fmt.Errorf("fields[%d]: resolve は attr と組み合わせて指定してください", i)
		}
		if f.Required {
			required++
		}
	}
	if required == 0 {
		return errors.New("required なフィールドが最低1つ必要です")
	}

	if v.Output.File == "" {
		return errors.New("output.file を指定してください")
	}
	if _, err := v.Output.DelimiterRune(); err != nil {
		return fmt.Errorf("output.delimiter: %w", err)
	}
	return nil
}

// WithURL は URL を差し替えたバリアントを返します。
// 相対リンクが上書き先のホストで解決されるよう、base_url も新しい URL の "scheme://host" に置き換えます。
func (v Variant) WithURL(raw string) Variant {
	v.URL = strings.TrimSpace(raw)
	v.BaseURL = originOf(v.URL)
	return v
}

// Header はフィールド名の並び (CSVヘッダー) を返します。
func (v Variant) Header() []string {
	header := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		header = append(header, f.Name)
	}
	return header
}

// DelimiterRune は区切り文字を rune として返します。
func (o OutputConfig) DelimiterRune() (rune, error) {
	if utf8.RuneCountInString(o.Delimiter) != 1 {
		return 0, fmt.Errorf("区切り文字は1文字である必要があります: %q", o.Delimiter)
	}
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("区切り文字として使用できません: %q", o.Delimiter)
	}
	return r, nil
}

func (c *Config) normalise() {
	c.OutputDir = strings.TrimSpace(c.OutputDir)
	c.FailureLog = strings.TrimSpace(c.FailureLog)
	c.MetricsFile = strings.TrimSpace(c.MetricsFile)
	c.DebugHTML = strings.TrimSpace(c.DebugHTML)
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	if c.HTTP.Headers == nil {
		c.HTTP.Headers = make(map[string]string)
	}

	normalised := make(map[string]Variant, len(c.Variants))
	for name, v := range c.Variants {
		name = strings.ToLower(strings.TrimSpace(name))
		v.Name = name
		v.URL = strings.TrimSpace(v.URL)
		v.BaseURL = strings.TrimSpace(v.BaseURL)
		v.CardSelector = strings.TrimSpace(v.CardSelector)
		if v.BaseURL == "" {
			v.BaseURL = originOf(v.URL)
		}
		for i := range v.Fields {
			v.Fields[i].Name = strings.TrimSpace(v.Fields[i].Name)
			v.Fields[i].Selector = strings.TrimSpace(v.Fields[i].Selector)
			v.Fields[i].Attr = strings.TrimSpace(v.Fields[i].Attr)
		}
		v.Output.File = strings.TrimSpace(v.Output.File)
		normalised[name] = v
	}
	c.Variants = normalised
}

// originOf は "scheme://host" 部分を返します。
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("URLが空です")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URLのパースエラー: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("httpまたはhttpsのURLを指定してください: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("ホストが含まれていません: %s", raw)
	}
	return nil
}

func compileSelector(sel string) error {
	if sel == "" {
		return errors.New("セレクターが空です")
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("不正なセレクター %q: %w", sel, err)
	}
	return nil
}
