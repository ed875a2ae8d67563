package fetcher

import (
	"errors"
	"fmt"
)

// FetchError は、ページを取得できなかったことを表すネットワーク層のエラーです。
// Fetch が返すエラーはすべてこの型です。
type FetchError struct {
	URL        string // リクエストしたURL
	FinalURL   string // 判明している場合はリダイレクト後のURL
	StatusCode int    // HTTPステータスコード (応答がなかった場合は 0)
	Reason     string // 人が読める理由
	Err        error  // 下位のエラー (存在する場合)
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ページの取得に失敗しました (URL: %s): %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("ページの取得に失敗しました (URL: %s): %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsStatusError は、エラーがHTTPステータスコードによる失敗かどうかを判断します。
func IsStatusError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode != 0
}
