// Package extract pulls the readable main text out of an HTML page.
package extract

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrNoContent is returned when no candidate container holds text.
var ErrNoContent = errors.New("no content container with text")

// NoiseSelectors are removed before extraction.
var NoiseSelectors = []string{"script", "style", "nav", "footer", "header", "aside"}

var contentClass = regexp.MustCompile(`(?i)content|main|article`)

// MainText parses r and returns the main text.
func MainText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument strips noise from doc and returns the text of the first
// container that yields any: main, article, a div or section whose class
// matches content|main|article, then body. Lines are trimmed and blank lines
// dropped.
func FromDocument(doc *goquery.Document) (string, error) {
	for _, sel := range NoiseSelectors {
		doc.Find(sel).Remove()
	}

	candidates := []*goquery.Selection{
		doc.Find("main").First(),
		doc.Find("article").First(),
		doc.Find("div[class], section[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			class, _ := s.Attr("class")
			return contentClass.MatchString(class)
		}),
		doc.Find("body").First(),
	}
	for _, c := range candidates {
		if text := firstWithText(c); text != "" {
			return text, nil
		}
	}
	return "", ErrNoContent
}

func firstWithText(sel *goquery.Selection) string {
	var out string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = Text(s)
		return out == ""
	})
	return out
}

// Text joins the trimmed, non-empty text nodes under sel with newlines.
func Text(sel *goquery.Selection) string {
	var lines []string
	for _, n := range sel.Nodes {
		collect(n, &lines)
	}
	return strings.Join(lines, "\n")
}

func collect(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		for _, line := range strings.Split(n.Data, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				*lines = append(*lines, line)
			}
		}
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, lines)
	}
}
