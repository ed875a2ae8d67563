package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"
	"github.com/sirupsen/logrus"

	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// Parser は、バリアントのセレクター定義に従ってカードからレコードを抽出します。
type Parser struct {
	variant config.Variant
	base    *url.URL
	logger  logrus.FieldLogger
}

// Result は1ページ分の抽出結果です。
// len(Records) + len(Skipped) は常に CardsFound と等しくなります。
type Result struct {
	Records    []types.Record
	CardsFound int
	Skipped    []*ExtractionError
}

// NewParser は、新しいParserのインスタンスを生成します。
func NewParser(variant config.Variant, logger logrus.FieldLogger) (*Parser, error) {
	if err := variant.Validate(); err != nil {
		return nil, fmt.Errorf("extract.NewParser: バリアント %q の定義が不正です: %w", variant.Name, err)
	}
	base, err := url.Parse(variant.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("extract.NewParser: base_url のパースエラー: %w", err)
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Parser{
		variant: variant,
		base:    base,
		logger:  logger.WithField("variant", variant.Name),
	}, nil
}

// Header は出力するCSVのヘッダーを返します。
func (p *Parser) Header() []string {
	return p.variant.Header()
}

// Parse はマークアップからカードを探し、各カードのフィールドを抽出します。
// カードが1枚も見つからない場合もエラーではなく、空の Result を返します。
func (p *Parser) Parse(markup []byte) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("HTML解析に失敗しました: %w", err)
	}

	cards := doc.Find(p.variant.CardSelector)
	result := &Result{
		Records:    make([]types.Record, 0, cards.Length()),
		CardsFound: cards.Length(),
	}
	if result.CardsFound == 0 {
		p.logger.WithField("selector", p.variant.CardSelector).
			Warn("想定したカード要素が見つかりません。ページのHTMLを確認してください")
		return result, nil
	}

	cards.Each(func(i int, card *goquery.Selection) {
		record, err := p.extractCard(i, card)
		if err != nil {
			p.logger.WithError(err).WithField("card", i).Warn("カードをスキップしました")
			result.Skipped = append(result.Skipped, err)
			return
		}
		result.Records = append(result.Records, record)
	})

	return result, nil
}

// extractCard は1枚のカードから全フィールドを取り出します。
// 必須フィールドが欠けている場合は ExtractionError を返します。
func (p *Parser) extractCard(index int, card *goquery.Selection) (types.Record, *ExtractionError) {
	values := make([]string, 0, len(p.variant.Fields))
	for _, field := range p.variant.Fields {
		value, ok := p.extractField(card, field)
		if !ok && field.Required {
			e := &ExtractionError{Index: index, Field: field.Name, Selector: field.Selector}
			if card.Find(field.Selector).Length() > 0 {
				e.Attr = field.Attr
			}
			return types.Record{}, e
		}
		values = append(values, value)
	}
	return types.Record{Values: values}, nil
}

// extractField は最初に一致した要素からテキストまたは属性値を取り出します。
func (p *Parser) extractField(card *goquery.Selection, field config.Field) (string, bool) {
	s := card.Find(field.Selector).First()
	if s.Length() == 0 {
		return "", false
	}

	if field.Attr == "" {
		return textUtils.NormalizeText(strings.TrimSpace(s.Text())), true
	}

	value, exists := s.Attr(field.Attr)
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	if field.Resolve {
		return p.resolve(value), true
	}
	return value, true
}

// resolve は相対URLを base_url 基準の絶対URLに変換します。
// 絶対URLはそのまま、パースできない値は元の文字列のまま返します。
func (p *Parser) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.base.ResolveReference(ref).String()
}
