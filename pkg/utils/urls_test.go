package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://www.Example.com/a/b/":       "example.com/a/b",
		"http://example.com/a/b?utm=1#frag":  "example.com/a/b",
		"example.com/a/b/":                   "example.com/a/b",
		"https://example.com":                "example.com",
		"https://example.com/":               "example.com",
		"https://sub.example.com/x?y=z":      "sub.example.com/x",
		"":                                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), "input %q", in)
	}
}

func TestNormalizeURL_VariantsCollapse(t *testing.T) {
	a := NormalizeURL("https://www.nature.com/articles/qc-2024/")
	b := NormalizeURL("http://nature.com/articles/qc-2024?ref=rss")
	assert.Equal(t, a, b)
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "en.wikipedia.org", Hostname("https://en.wikipedia.org/wiki/Go"))
	assert.Equal(t, "example.com", Hostname("http://www.example.com/x"))
	assert.Equal(t, "", Hostname("::not a url"))
}

func TestHashString_Stable(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
	assert.Len(t, HashString("abc"), 40)
}
