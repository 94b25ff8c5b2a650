package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTML(t *testing.T) {
	out := HTML("<script>alert(1)</script>")
	assert.NotContains(t, out, "<")
	assert.NotContains(t, out, ">")
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", out)

	assert.Equal(t, "a &amp; b &quot;c&quot; &#x27;d&#x27;", HTML(`a & b "c" 'd'`))
	assert.Equal(t, "plain text", HTML("plain text"))
}

func TestUsername(t *testing.T) {
	cases := map[string]string{
		"user@123!":   "user123",
		"good_name-1": "good_name-1",
		"spa ce":      "space",
		"ünïcode":     "ncode",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Username(in), in)
	}
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "alice", SearchQuery("  alice  "))
	assert.Equal(t, "al_i", SearchQuery("a%l_i"))
	assert.Equal(t, "", SearchQuery("%%%"))

	long := strings.Repeat("x", 200)
	assert.Len(t, SearchQuery(long), MaxSearchQueryLen)
}
