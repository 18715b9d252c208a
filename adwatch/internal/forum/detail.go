// CLAUDE:SUMMARY Topic page extraction via XPath: for-sale label, price, first post text, photo link.
package forum

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Detail is what a topic page says about the listing.
type Detail struct {
	ForSale  bool   `json:"for_sale"`
	Price    int    `json:"price"`
	Body     string `json:"body"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Labels are the localized strings the detail parser looks for. Each list
// holds the Finnish and English variants.
type Labels struct {
	ForSale            []string `yaml:"for_sale"`
	Price              []string `yaml:"price"`
	LocationDelimiters []string `yaml:"location_delimiters"`
}

// DefaultLabels matches fillaritori.com in Finnish and English.
func DefaultLabels() Labels {
	return Labels{
		ForSale:            []string{"Myydään", "For sale"},
		Price:              []string{"Hinta", "Price"},
		LocationDelimiters: []string{" Paikkakunta: ", " City: "},
	}
}

func (l *Labels) defaults() {
	d := DefaultLabels()
	if len(l.ForSale) == 0 {
		l.ForSale = d.ForSale
	}
	if len(l.Price) == 0 {
		l.Price = d.Price
	}
	if len(l.LocationDelimiters) == 0 {
		l.LocationDelimiters = d.LocationDelimiters
	}
}

var nonDigits = regexp.MustCompile(`\D`)

// Parser extracts Details from topic pages.
type Parser struct {
	forSale    map[string]bool
	delimiters []string

	saleLabel   *xpath.Expr
	priceText   *xpath.Expr
	photoLink   *xpath.Expr
	comment     *xpath.Expr
	commentText *xpath.Expr
}

// NewParser compiles the XPath expressions for the given labels. Empty label
// lists fall back to DefaultLabels.
func NewParser(l Labels) (*Parser, error) {
	l.defaults()

	priceStrong := fmt.Sprintf("//strong[%s]", containsAny(l.Price))
	exprs := map[string]string{
		"sale":         "//h1[@class='ipsType_pageTitle ipsContained_container']/span/a/span",
		"price":        priceStrong + "/following-sibling::text()",
		"photo":        priceStrong + "/../../p[*]/a",
		"comment":      "//div[@data-role='commentContent']",
		"comment_text": ".//text()",
	}
	compiled := make(map[string]*xpath.Expr, len(exprs))
	for name, e := range exprs {
		c, err := xpath.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("forum: compile %s xpath: %w", name, err)
		}
		compiled[name] = c
	}

	p := &Parser{
		forSale:     make(map[string]bool, len(l.ForSale)),
		delimiters:  l.LocationDelimiters,
		saleLabel:   compiled["sale"],
		priceText:   compiled["price"],
		photoLink:   compiled["photo"],
		comment:     compiled["comment"],
		commentText: compiled["comment_text"],
	}
	for _, s := range l.ForSale {
		p.forSale[s] = true
	}
	return p, nil
}

// ParseDetail extracts a Detail from a topic page. Malformed or unexpected
// HTML yields zero fields.
func (p *Parser) ParseDetail(payload []byte) Detail {
	doc, err := htmlquery.Parse(bytes.NewReader(payload))
	if err != nil {
		return Detail{}
	}
	return Detail{
		ForSale:  p.isForSale(doc),
		Price:    p.price(doc),
		Body:     p.body(doc),
		PhotoURL: p.photo(doc),
	}
}

func (p *Parser) isForSale(doc *html.Node) bool {
	n := htmlquery.QuerySelector(doc, p.saleLabel)
	if n == nil {
		return false
	}
	return p.forSale[strings.TrimSpace(htmlquery.InnerText(n))]
}

func (p *Parser) price(doc *html.Node) int {
	n := htmlquery.QuerySelector(doc, p.priceText)
	if n == nil {
		return 0
	}
	digits := nonDigits.ReplaceAllString(htmlquery.InnerText(n), "")
	if digits == "" {
		return 0
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return v
}

func (p *Parser) body(doc *html.Node) string {
	block := htmlquery.QuerySelector(doc, p.comment)
	if block == nil {
		return ""
	}
	var parts []string
	for _, t := range htmlquery.QuerySelectorAll(block, p.commentText) {
		if t.Parent != nil && (t.Parent.Data == "script" || t.Parent.Data == "style") {
			continue
		}
		if s := strings.TrimSpace(t.Data); s != "" {
			parts = append(parts, s)
		}
	}
	return cutLocation(strings.Join(parts, " "), p.delimiters)
}

func (p *Parser) photo(doc *html.Node) string {
	for _, a := range htmlquery.QuerySelectorAll(doc, p.photoLink) {
		if href := strings.TrimSpace(htmlquery.SelectAttr(a, "href")); href != "" {
			return NormalizePhotoURL(href)
		}
	}
	return ""
}

// NormalizePhotoURL drops the leading "//" of a protocol-relative link.
func NormalizePhotoURL(href string) string {
	return strings.TrimPrefix(href, "//")
}

// cutLocation keeps the text before the earliest location delimiter.
func cutLocation(s string, delimiters []string) string {
	cut := len(s)
	for _, d := range delimiters {
		if d == "" {
			continue
		}
		if i := strings.Index(s, d); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut]
}

// containsAny builds "contains(text(), 'a') or contains(text(), 'b')".
func containsAny(labels []string) string {
	conds := make([]string, 0, len(labels))
	for _, l := range labels {
		conds = append(conds, fmt.Sprintf("contains(text(), %s)", literal(l)))
	}
	return strings.Join(conds, " or ")
}

// literal quotes s as an XPath 1.0 string literal.
func literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}
