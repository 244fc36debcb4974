// Package sources collects the URLs a run should process.
package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mmcdole/gofeed"
)

// ErrNoURLs is returned when no input produced a URL.
var ErrNoURLs = errors.New("no urls provided: use --url, --urls, --url-file or --feed")

// Input lists every place URLs may come from.
type Input struct {
	URL     string
	URLs    string
	URLFile string
	Feed    string
}

// FeedParser fetches and parses an RSS or Atom feed.
type FeedParser interface {
	ParseURLWithContext(feedURL string, ctx context.Context) (*gofeed.Feed, error)
}

// Collect gathers URLs in flag order (url, urls, url-file, feed), dropping
// blanks and duplicates.
func Collect(ctx context.Context, in Input, feeds FeedParser) ([]string, error) {
	urls, err := Gather(ctx, in, feeds)
	if err != nil {
		return nil, err
	}
	return Dedupe(urls), nil
}

// Gather is Collect without duplicate removal, so callers can pair entries
// with positional data before repeats are dropped.
func Gather(ctx context.Context, in Input, feeds FeedParser) ([]string, error) {
	var urls []string

	urls = append(urls, in.URL)
	if in.URLs != "" {
		urls = append(urls, strings.Split(in.URLs, ",")...)
	}
	if in.URLFile != "" {
		lines, err := readLines(in.URLFile)
		if err != nil {
			return nil, err
		}
		urls = append(urls, lines...)
	}
	if in.Feed != "" {
		if feeds == nil {
			feeds = gofeed.NewParser()
		}
		links, err := FeedLinks(ctx, feeds, in.Feed)
		if err != nil {
			return nil, err
		}
		urls = append(urls, links...)
	}

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoURLs
	}
	return out, nil
}

// FeedLinks returns the item links of a feed in document order.
func FeedLinks(ctx context.Context, feeds FeedParser, feedURL string) ([]string, error) {
	feed, err := feeds.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		links = append(links, link)
	}
	return links, nil
}

// Dedupe trims entries and removes blanks and repeats, keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// SplitList parses a comma separated flag value.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return lines, nil
}
