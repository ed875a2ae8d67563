package extract_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-forecast-scraper/pkg/config"
	"github.com/shouni/go-forecast-scraper/pkg/extract"
	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// cardVariant は div.card を対象にした links 形式のテスト用バリアントです。
func cardVariant() config.Variant {
	return config.Variant{
		Name:         "cards",
		URL:          "https://www.bmkg.go.id/cuaca",
		BaseURL:      "https://www.bmkg.go.id",
		CardSelector: "div.card",
		Fields: []config.Field{
			{Name: "title", Selector: "h2", Required: true},
			{Name: "link", Selector: "a", Attr: "href", Resolve: true, Required: true},
		},
		Output: config.OutputConfig{File: "cards.csv", Delimiter: ";"},
	}
}

func builtin(t *testing.T, name string) config.Variant {
	t.Helper()
	cfg := config.Default()
	v, err := cfg.Variant(name)
	require.NoError(t, err)
	return v
}

func TestNewParser(t *testing.T) {
	t.Run("success_with_valid_variant", func(t *testing.T) {
		p, err := extract.NewParser(cardVariant(), nil)
		assert.NoError(t, err)
		assert.NotNil(t, p)
		assert.Equal(t, []string{"title", "link"}, p.Header())
	})

	t.Run("error_with_invalid_selector", func(t *testing.T) {
		v := cardVariant()
		v.CardSelector = "div[["
		p, err := extract.NewParser(v, nil)
		assert.Error(t, err)
		assert.Nil(t, p)
	})
}

func TestParse_LinksCard(t *testing.T) {
	p, err := extract.NewParser(cardVariant(), nil)
	require.NoError(t, err)

	res, err := p.Parse([]byte(`<div class="card"><h2>Jakarta</h2><a href="/x">l</a></div>`))
	require.NoError(t, err)

	want := []types.Record{types.NewRecord("Jakarta", "https://www.bmkg.go.id/x")}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("抽出結果が期待値と異なります (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, res.CardsFound)
	assert.Empty(t, res.Skipped)
}

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		html         string
		expected     []types.Record
		cardsFound   int
		skippedField []string
	}{
		{
			name:       "zero_cards",
			html:       `<html><body><div class="other"><h2>Jakarta</h2></div></body></html>`,
			expected:   []types.Record{},
			cardsFound: 0,
		},
		{
			name:       "empty_document",
			html:       ``,
			expected:   []types.Record{},
			cardsFound: 0,
		},
		{
			name: "missing_title_skips_only_that_card",
			html: `<div class="card"><a href="/a">a</a></div>
			       <div class="card"><h2>Bandung</h2><a href="/b">b</a></div>`,
			expected:     []types.Record{types.NewRecord("Bandung", "https://www.bmkg.go.id/b")},
			cardsFound:   2,
			skippedField: []string{"title"},
		},
		{
			name: "missing_href_attribute",
			html: `<div class="card"><h2>Bogor</h2><a>no link</a></div>
			       <div class="card"><h2>Depok</h2><a href="/d">d</a></div>`,
			expected:     []types.Record{types.NewRecord("Depok", "https://www.bmkg.go.id/d")},
			cardsFound:   2,
			skippedField: []string{"link"},
		},
		{
			name:       "absolute_link_kept",
			html:       `<div class="card"><h2>Surabaya</h2><a href="https://example.org/sby">s</a></div>`,
			expected:   []types.Record{types.NewRecord("Surabaya", "https://example.org/sby")},
			cardsFound: 1,
		},
		{
			name:       "title_is_trimmed_and_first_heading_wins",
			html:       `<div class="card"><h2>  Medan  </h2><h2>Other</h2><a href="/m">m</a><a href="/z">z</a></div>`,
			expected:   []types.Record{types.NewRecord("Medan", "https://www.bmkg.go.id/m")},
			cardsFound: 1,
		},
		{
			name: "multi_line_heading_collapsed_to_single_spaces",
			html: `<div class="card"><h2>
			         Jakarta
			         Pusat
			       </h2><a href=" /jkt ">j</a></div>`,
			expected:   []types.Record{types.NewRecord("Jakarta Pusat", "https://www.bmkg.go.id/jkt")},
			cardsFound: 1,
		},
		{
			name: "nested_markup_outside_cards_ignored",
			html: `<h2>Header</h2><a href="/nav">nav</a>
			       <section><div class="card extra"><h2>Semarang</h2><a href="/smg">s</a></div></section>`,
			expected:   []types.Record{types.NewRecord("Semarang", "https://www.bmkg.go.id/smg")},
			cardsFound: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := extract.NewParser(cardVariant(), nil)
			require.NoError(t, err)

			res, err := p.Parse([]byte(tc.html))
			require.NoError(t, err, "カードがなくてもエラーにならない")

			if diff := cmp.Diff(tc.expected, res.Records); diff != "" {
				t.Errorf("抽出結果が期待値と異なります (-want +got):\n%s", diff)
			}
			assert.Equal(t, tc.cardsFound, res.CardsFound)
			assert.Equal(t, res.CardsFound, len(res.Records)+len(res.Skipped))

			var fields []string
			for _, s := range res.Skipped {
				fields = append(fields, s.Field)
			}
			assert.Equal(t, tc.skippedField, fields)
		})
	}
}

func TestParse_ForecastVariant(t *testing.T) {
	p, err := extract.NewParser(builtin(t, config.VariantForecast), nil)
	require.NoError(t, err)

	html := `<div class="row">
	  <div class="prakicu-kota"><h2>Jakarta Pusat</h2><span class="heading-md">31 °C</span><img src="a.png" alt="Cerah Berawan"></div>
	  <div class="prakicu-kota"><h2>Bandung</h2><span class="heading-md">24 °C</span><img src="b.png"></div>
	  <div class="prakicu-kota"><h2>Bogor</h2><img src="c.png" alt="Hujan Ringan"></div>
	  <div class="prakicu-kota"><h2>Serang</h2><span class="heading-md">30 °C</span><img src="d.png" alt="Berawan"></div>
	</div>`

	res, err := p.Parse([]byte(html))
	require.NoError(t, err)

	want := []types.Record{
		types.NewRecord("Jakarta Pusat", "31 °C", "Cerah Berawan"),
		types.NewRecord("Serang", "30 °C", "Berawan"),
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("抽出結果が期待値と異なります (-want +got):\n%s", diff)
	}
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "Cuaca", res.Skipped[0].Field)
	assert.Equal(t, "alt", res.Skipped[0].Attr)
	assert.Equal(t, 1, res.Skipped[0].Index)
	assert.Equal(t, "Suhu", res.Skipped[1].Field)
	assert.Empty(t, res.Skipped[1].Attr)
}

func TestParse_LinksVariantSelector(t *testing.T) {
	p, err := extract.NewParser(builtin(t, config.VariantLinks), nil)
	require.NoError(t, err)

	html := `<div class="col-md-4 col-sm-6 col-xs-12"><h2>Aceh</h2><a href="/cuaca/aceh">x</a></div>
	         <div class="col-md-4"><h2>Not a card</h2><a href="/nope">x</a></div>`
	res, err := p.Parse([]byte(html))
	require.NoError(t, err)

	assert.Equal(t, []types.Record{types.NewRecord("Aceh", "https://www.bmkg.go.id/cuaca/aceh")}, res.Records)
}

func TestParse_OptionalFieldMissing(t *testing.T) {
	v := cardVariant()
	v.Fields[1].Required = false

	p, err := extract.NewParser(v, nil)
	require.NoError(t, err)

	res, err := p.Parse([]byte(`<div class="card"><h2>Padang</h2></div>`))
	require.NoError(t, err)
	assert.Equal(t, []types.Record{types.NewRecord("Padang", "")}, res.Records)
}

func TestParse_NeverMoreRecordsThanCards(t *testing.T) {
	p, err := extract.NewParser(cardVariant(), nil)
	require.NoError(t, err)

	for n := 0; n <= 5; n++ {
		var b strings.Builder
		for i := 0; i < n; i++ {
			if i%2 == 0 {
				fmt.Fprintf(&b, `<div class="card"><h2>Kota %d</h2><a href="/k/%d">k</a></div>`, i, i)
			} else {
				fmt.Fprintf(&b, `<div class="card"><span>rusak</span></div>`)
			}
		}
		res, err := p.Parse([]byte(b.String()))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Records), n)
		assert.Equal(t, n, res.CardsFound)
		for _, r := range res.Records {
			assert.NotEmpty(t, r.Get(0))
		}
	}
}

func TestParse_LogsSkippedCards(t *testing.T) {
	logger, hook := test.NewNullLogger()

	p, err := extract.NewParser(cardVariant(), logger)
	require.NoError(t, err)

	_, err = p.Parse([]byte(`<div class="card"><a href="/a">a</a></div>`))
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, 0, entry.Data["card"])

	var ee *extract.ExtractionError
	require.True(t, errors.As(entry.Data[logrus.ErrorKey].(error), &ee))
	assert.Equal(t, "title", ee.Field)
}

func TestParse_LogsWhenNoCards(t *testing.T) {
	logger, hook := test.NewNullLogger()

	p, err := extract.NewParser(cardVariant(), logger)
	require.NoError(t, err)

	res, err := p.Parse([]byte(`<p>kosong</p>`))
	require.NoError(t, err)
	assert.Empty(t, res.Records)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
	assert.Equal(t, "div.card", hook.Entries[0].Data["selector"])
}
