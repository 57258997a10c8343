package extract

import "strings"

// DefaultStockMarkers are phrases that indicate a purchasable product.
var DefaultStockMarkers = []string{
	"Ajouter au panier",
	"In stock",
	"En stock",
	"Disponible",
}

// StockDetector decides availability from rendered page content.
type StockDetector struct {
	markers []string
}

// NewStockDetector builds a detector. Blank markers are ignored; an empty
// list falls back to DefaultStockMarkers.
func NewStockDetector(markers []string) *StockDetector {
	cleaned := make([]string, 0, len(markers))
	for _, m := range markers {
		if strings.TrimSpace(m) == "" {
			continue
		}
		cleaned = append(cleaned, m)
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultStockMarkers...)
	}
	return &StockDetector{markers: cleaned}
}

// InStock reports whether any marker phrase occurs in content.
func (d *StockDetector) InStock(content string) bool {
	if d == nil || content == "" {
		return false
	}
	for _, m := range d.markers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

// Markers returns a copy of the configured phrases.
func (d *StockDetector) Markers() []string {
	return append([]string(nil), d.markers...)
}
