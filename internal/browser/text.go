package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BodyText extracts the visible text of the document body from raw HTML.
// It is used when the rendered text cannot be read from the live page.
func BodyText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.TrimSpace(body.Text()), nil
}

// FlattenNewlines replaces every line feed with a space.
func FlattenNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
