package retrieval

import (
	"net/url"
	"regexp"
	"strings"
)

var repositoryPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

// Classify decides the URL class from its shape alone. Article hosts are
// checked before code hosts; everything else is a webpage.
func Classify(rawURL string) Kind {
	if strings.Contains(rawURL, "mp.weixin.qq.com") || strings.Contains(rawURL, "weixin.qq.com") {
		return KindWeChat
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}
	if strings.Contains(host, "github.com") || strings.Contains(host, "gitlab.com") {
		return KindRepository
	}
	return KindWebpage
}

// ParseRepository extracts the owner and repository name from a GitHub URL.
func ParseRepository(rawURL string) (owner, repo string) {
	m := repositoryPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", ""
	}
	return m[1], strings.ReplaceAll(m[2], ".git", "")
}
