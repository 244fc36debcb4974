package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripLinks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"inline link keeps text", "see [the docs](https://example.com/docs) now", "see the docs now"},
		{"image dropped", "before ![logo](https://example.com/logo.png) after", "before  after"},
		{"linked image dropped", "[![badge](https://img)](https://ci)", ""},
		{"reference link", "read [this][1]\n\n[1]: https://example.com", "read this"},
		{"autolink", "mail <https://example.com/x> here", "mail https://example.com/x here"},
		{"nested brackets", "[[x](y)](z)", "x"},
		{"collapse blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"trim", "\n\n  hello  \n\n", "hello"},
		{"crlf", "a\r\n\r\n\r\n\r\nb", "a\n\nb"},
		{"parentheses in target", "See [Go](https://en.wikipedia.org/wiki/Go_(programming_language)) now.", "See Go now."},
		{"code span verbatim", "`[code](x)` stays", "`[code](x)` stays"},
		{"heading markers dropped", "# Title\n\nbody [x](y)", "Title\n\nbody x"},
		{"escaped link unwrapped", "\\[a\\](b) c", "a c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripLinks(tc.in))
		})
	}
}

func TestStripLinksFiveNewlinesBecomeTwo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "top\n\nbottom", StripLinks("top\n\n\n\n\nbottom"))
}

func TestStripLinksIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"# Title\n\nSome [link](http://a) and ![img](http://b).\n\n\n\nMore [[x](y)](z) text\n    [ref]: http://c",
		"plain text only",
		"[a]([b](c))",
		"keep `[x](y)` and [Go](https://en.wikipedia.org/wiki/Go_(lang))",
		"- one [a](b)\n- two ![i](j)\n\n> quote",
		"",
	}
	for _, in := range inputs {
		once := StripLinks(in)
		assert.Equal(t, once, StripLinks(once), "input %q", in)
	}
}
