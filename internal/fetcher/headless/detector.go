package headless

import (
	"bytes"
	"net/http"
	"strings"
)

// DefaultBodyThreshold is the body size under which script-heavy pages are
// treated as client-rendered shells.
const DefaultBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("__nuxt"),
}

// Detector decides whether a statically fetched page needs a browser to
// produce readable text.
type Detector struct {
	BodyThreshold int
}

// NewDetector returns a Detector. A zero threshold uses DefaultBodyThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Detector{BodyThreshold: threshold}
}

// NeedsBrowser reports whether a 200 response looks like a JS application
// shell: empty, mostly script, or carrying a known SPA mount point.
func (d *Detector) NeedsBrowser(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < d.BodyThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script elements cover at least a quarter of
// the document.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// malformed tag runs to the end
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
