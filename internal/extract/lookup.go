package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPriceSelectors lists common price containers, most specific first.
var DefaultPriceSelectors = []string{
	".price",
	".a-price-whole",
	".current-price",
	".product-price",
	"[data-price]",
	".amount",
}

// valueAttrs carry the price when an element has no text of its own.
var valueAttrs = []string{"data-price", "content"}

// LookupPriceText walks selectors in order and returns the text of the first
// element that yields a value. Invalid selectors match nothing. When nothing
// matches it returns NotFoundText and found=false.
func LookupPriceText(html string, selectors []string) (text string, selector string, found bool) {
	if strings.TrimSpace(html) == "" {
		return NotFoundText, "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return NotFoundText, "", false
	}
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if value, ok := elementValue(doc.Find(sel).First()); ok {
			return value, sel, true
		}
	}
	return NotFoundText, "", false
}

// SelectorsFor prepends a product's own selector to the defaults, without
// repeating it.
func SelectorsFor(custom string, defaults []string) []string {
	custom = strings.TrimSpace(custom)
	out := make([]string, 0, len(defaults)+1)
	if custom != "" {
		out = append(out, custom)
	}
	for _, sel := range defaults {
		if sel == custom {
			continue
		}
		out = append(out, sel)
	}
	return out
}

func elementValue(s *goquery.Selection) (string, bool) {
	if s.Length() == 0 {
		return "", false
	}
	if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
		return text, true
	}
	for _, attr := range valueAttrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
