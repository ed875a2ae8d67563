package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// Fetcher は、1ページ分のHTMLを取得する機能のインターフェースを定義します。
// 返されるエラーは常に *FetchError です。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*types.Page, error)
}

// Options は HTTPFetcher の設定です。
// Timeout、MaxRedirects、MaxBodyBytes は 0 以下の場合に既定値を使います。
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	Delay        time.Duration // リクエスト前の固定待機時間
	MaxRedirects int
	MaxBodyBytes int64
}

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 10
	DefaultMaxBodyBytes = int64(10 * 1024 * 1024)
)

// HTTPFetcher は resty を使って Fetcher を実装します。
type HTTPFetcher struct {
	http         *resty.Client
	delay        time.Duration
	maxBodyBytes int64
	logger       logrus.FieldLogger
}

// New は HTTPFetcher を生成します。logger が nil の場合はログを破棄します。
func New(opts Options, logger logrus.FieldLogger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	client.SetDoNotParseResponse(true)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}

	return &HTTPFetcher{
		http:         client,
		delay:        opts.Delay,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger,
	}
}

// Fetch は固定時間待機したあと url に GET リクエストを送り、本文を UTF-8 で返します。
// 2xx 以外のステータス、タイムアウト、通信エラーはすべて *FetchError として返します。
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*types.Page, error) {
	log := f.logger.WithField("url", url)

	if err := f.wait(ctx); err != nil {
		return nil, &FetchError{URL: url, Reason: "待機中にキャンセルされました", Err: err}
	}

	start := time.Now()
	res, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &FetchError{URL: url, FinalURL: finalURL(res, url), Reason: "HTTPリクエストに失敗しました", Err: err}
	}
	raw := res.RawResponse
	defer raw.Body.Close()

	final := finalURL(res, url)
	log.WithField("final_url", final).Info("リダイレクト後のURL")

	if raw.StatusCode < 200 || raw.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(raw.Body, f.maxBodyBytes))
		return nil, &FetchError{
			URL:        url,
			FinalURL:   final,
			StatusCode: raw.StatusCode,
			Reason:     fmt.Sprintf("HTTPステータスコード %d", raw.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(raw.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, FinalURL: final, StatusCode: raw.StatusCode, Reason: "レスポンスボディの読み込みに失敗しました", Err: err}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &FetchError{
			URL:        url,
			FinalURL:   final,
			StatusCode: raw.StatusCode,
			Reason:     fmt.Sprintf("レスポンスボディが最大サイズ (%dバイト) を超えました", f.maxBodyBytes),
		}
	}

	contentType := raw.Header.Get("Content-Type")
	text, err := toUTF8(body, contentType)
	if err != nil {
		return nil, &FetchError{URL: url, FinalURL: final, StatusCode: raw.StatusCode, Reason: "文字コードの変換に失敗しました", Err: err}
	}

	return &types.Page{
		URL:         url,
		FinalURL:    final,
		StatusCode:  raw.StatusCode,
		ContentType: contentType,
		Body:        text,
		FetchedAt:   time.Now(),
		Latency:     time.Since(start),
	}, nil
}

// wait はリクエスト前の固定待機です。ctx がキャンセルされた場合はその理由を返します。
func (f *HTTPFetcher) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	f.logger.WithField("delay", f.delay.String()).Debug("リクエスト前に待機します")

	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func finalURL(res *resty.Response, fallback string) string {
	if res == nil || res.RawResponse == nil || res.RawResponse.Request == nil || res.RawResponse.Request.URL == nil {
		return fallback
	}
	return res.RawResponse.Request.URL.String()
}

// toUTF8 は Content-Type ヘッダーと meta タグから文字コードを判定し、本文を UTF-8 に変換します。
// 文字コードが宣言されておらず本文が UTF-8 として正しい場合は、windows-1252 とみなさずそのまま返します。
func toUTF8(body []byte, contentType string) ([]byte, error) {
	enc, _, certain := charset.DetermineEncoding(body, contentType)
	if !certain && utf8.Valid(body) {
		return body, nil
	}
	return io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
}
