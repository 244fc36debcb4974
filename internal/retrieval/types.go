// Package retrieval classifies links and runs the ordered fallback chain of
// content fetchers for each link class.
package retrieval

import "context"

// Kind is the URL class decided by Classify.
type Kind string

const (
	// KindWeChat marks article pages hosted on WeChat.
	KindWeChat Kind = "wechat"
	// KindRepository marks code-hosting repository pages.
	KindRepository Kind = "repo"
	// KindWebpage is every other link.
	KindWebpage Kind = "webpage"
	// KindUnknown is the zero classification.
	KindUnknown Kind = "unknown"
)

// Reason codes carried by Result.Error.
const (
	ReasonFetchFailed  = "fetch_failed"
	ReasonNotSupported = "not_supported"
)

// Fetcher turns a URL into text using one strategy.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, rawURL string) Outcome
}

// Meta carries article metadata produced by site-specific fetchers.
type Meta struct {
	Title       string
	Author      string
	Nickname    string
	PublishedAt string
	ArticleLink string
}

// Result is the annotated retrieval outcome for one URL.
type Result struct {
	URL         string `json:"url"`
	Type        Kind   `json:"type"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
	PublishedAt string `json:"createTime,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Repo        string `json:"repo,omitempty"`
	Content     string `json:"content"`
	Source      string `json:"source,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether every strategy was exhausted.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Prefix returns the first n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
