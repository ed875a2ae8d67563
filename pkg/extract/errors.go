package extract

import "fmt"

// ExtractionError は、カード内に必須の要素または属性が見つからなかったことを表します。
// カード単位のエラーであり、バッチ全体の処理は継続されます。
type ExtractionError struct {
	Index    int    // カードの出現順 (0始まり)
	Field    string // フィールド名
	Selector string
	Attr     string // 属性が見つからなかった場合のみ
}

func (e *ExtractionError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("カード[%d] のフィールド %q: 要素 %q に属性 %q がありません", e.Index, e.Field, e.Selector, e.Attr)
	}
	return fmt.Sprintf("カード[%d] のフィールド %q: 要素 %q が見つかりません", e.Index, e.Field, e.Selector)
}
