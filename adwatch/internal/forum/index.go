// Package forum parses Invision Community (IPS) forum pages: the topic index
// of a forum and a single topic's first post.
//
// Parsing never fails. A missing node is an empty result at every step.
package forum

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Summary is one topic row of an index page.
type Summary struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ParseIndex returns the topic rows of an index page in page order
// (newest first). Rows without a resolvable link or id are skipped; zero rows
// is a valid result.
func ParseIndex(payload []byte) []Summary {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil
	}

	var out []Summary
	doc.Find(`div[data-tableid="topics"] > ol > li`).Each(func(_ int, li *goquery.Selection) {
		href := rowLink(li)
		if href == "" {
			return
		}
		id := ListingID(href)
		if id == "" {
			return
		}
		out = append(out, Summary{ID: id, URL: href})
	})
	return out
}

// rowLink returns the topic link of a row. The title link sits in the second
// span of the heading; rows without a prefix badge only have one span.
func rowLink(li *goquery.Selection) string {
	h4 := li.Find(`div[class="ipsDataItem_main"] > h4`).First()
	spans := h4.ChildrenFiltered("span")
	for _, i := range []int{1, 0} {
		if href, ok := spans.Eq(i).ChildrenFiltered("a[href]").First().Attr("href"); ok && href != "" {
			return strings.TrimSpace(href)
		}
	}
	return ""
}

// ListingID derives a topic id from its URL: the path segment before the
// last "/", up to the first "-".
//
//	https://www.fillaritori.com/topic/123456-trek-domane/ -> "123456"
func ListingID(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	parts := strings.Split(rawURL, "/")
	if len(parts) < 2 {
		return ""
	}
	seg := parts[len(parts)-2]
	id, _, _ := strings.Cut(seg, "-")
	return id
}

// Resolve makes href absolute against the index page URL. Absolute hrefs are
// returned unchanged.
func Resolve(base, href string) string {
	h, err := url.Parse(href)
	if err != nil || h.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
