package types

import (
	"net/url"
	"time"
)

// Page は、1回のフェッチで取得したページ本文と診断情報を保持します。
// Fetcher の出力、Parser の入力として利用されます。
type Page struct {
	URL         string        // リクエストしたURL
	FinalURL    string        // リダイレクト後の最終URL
	StatusCode  int           // HTTPステータスコード
	ContentType string        // Content-Type ヘッダー
	Body        []byte        // UTF-8 に変換済みの本文
	FetchedAt   time.Time     // 取得完了時刻
	Latency     time.Duration // リクエスト開始から本文読み込み完了まで
}

// Host はリダイレクト後のホスト名を返します。パースできない場合は空文字列です。
func (p *Page) Host() string {
	if p == nil {
		return ""
	}
	u, err := url.Parse(p.FinalURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Record は、1枚のカードから抽出した値の並びです。
// 値の順序は対応するバリアントのフィールド定義 (= CSVヘッダー) と一致します。
type Record struct {
	Values []string
}

// NewRecord は可変長引数から Record を生成します。
func NewRecord(values ...string) Record {
	return Record{Values: values}
}

// Get は i 番目の値を返します。範囲外の場合は空文字列です。
func (r Record) Get(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// Stage はページ単位の失敗が発生した処理段階です。
type Stage string

const (
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
)

// Failure は、処理できなかったページ1件分の記録です。
type Failure struct {
	URL    string
	Stage  Stage
	Reason string
}

// String は "段階: 理由" の形式で返します。
func (f Failure) String() string {
	return string(f.Stage) + ": " + f.Reason
}

// FailureLog は、1回の実行で処理できなかったページを追記順に保持します。
type FailureLog []Failure

// Add は失敗を末尾に追加します。
func (l *FailureLog) Add(url string, stage Stage, reason string) {
	*l = append(*l, Failure{URL: url, Stage: stage, Reason: reason})
}

// URLs は失敗したURLを追記順に返します。
func (l FailureLog) URLs() []string {
	urls := make([]string, 0, len(l))
	for _, f := range l {
		urls = append(urls, f.URL)
	}
	return urls
}

// State は1回の実行における処理段階です。
type State int

const (
	StateIdle State = iota
	StateFetching
	StateParsing
	StatePersisting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFetching:
		return "Fetching"
	case StateParsing:
		return "Parsing"
	case StatePersisting:
		return "Persisting"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// RunReport は1回の実行結果をまとめたものです。
type RunReport struct {
	Variant    string
	URL        string
	Header     []string
	Page       *Page // フェッチに失敗した場合は nil
	CardsFound int
	Skipped    int
	Records    []Record
	Failures   FailureLog
	State      State    // 現在の状態
	States     []string // 通過した状態 (診断用)
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded は、ページ単位の失敗がなかったかどうかを返します。
func (r *RunReport) Succeeded() bool {
	return r != nil && len(r.Failures) == 0
}
