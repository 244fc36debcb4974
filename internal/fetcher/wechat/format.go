package wechat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMissingNode is returned when a required element is absent from the page.
var ErrMissingNode = errors.New("required node missing")

var createTimePattern = regexp.MustCompile(`var createTime = '(.*?)'`)

// Article is the structured content of a WeChat article page.
type Article struct {
	Nickname    string
	Author      string
	ArticleLink string
	Title       string
	CreateTime  string
	Texts       []string
}

// Format parses the article HTML. Every field is required; a page whose
// structure changed fails instead of returning partial data.
func Format(html string) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("parse article html: %w", err)
	}

	var a Article
	if a.Nickname, err = requireText(doc, "a#js_name"); err != nil {
		return Article{}, err
	}
	if a.Author, err = requireAttr(doc, `meta[name="author"]`, "content"); err != nil {
		return Article{}, err
	}
	if a.ArticleLink, err = requireAttr(doc, `meta[property="og:url"]`, "content"); err != nil {
		return Article{}, err
	}
	if a.Title, err = requireText(doc, "h1#activity-name"); err != nil {
		return Article{}, err
	}

	m := createTimePattern.FindStringSubmatch(html)
	if m == nil {
		return Article{}, fmt.Errorf("%w: createTime", ErrMissingNode)
	}
	a.CreateTime = m[1]

	for _, line := range strings.Split(doc.Text(), "\n") {
		if strings.TrimSpace(line) != "" {
			a.Texts = append(a.Texts, line)
		}
	}
	return a, nil
}

func requireText(doc *goquery.Document, selector string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingNode, selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}

func requireAttr(doc *goquery.Document, selector, attr string) (string, error) {
	sel := doc.Find(selector).First()
	val, ok := sel.Attr(attr)
	if !ok {
		return "", fmt.Errorf("%w: %s[%s]", ErrMissingNode, selector, attr)
	}
	return strings.TrimSpace(val), nil
}
