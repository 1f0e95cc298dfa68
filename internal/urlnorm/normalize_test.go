package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"trims", "  https://example.com/a  ", "https://example.com/a"},
		{"lowercases scheme and host", "HTTPS://WWW.Example.COM/Reel/AbC", "https://www.example.com/Reel/AbC"},
		{"strips trailing slash", "https://example.com/reel/abc/", "https://example.com/reel/abc"},
		{"strips repeated trailing slashes", "https://example.com/reel//", "https://example.com/reel"},
		{"drops fragment", "https://example.com/v#t=10", "https://example.com/v"},
		{"drops utm params", "https://example.com/v?utm_source=x&UTM_Medium=y&id=7", "https://example.com/v?id=7"},
		{"drops denylisted params", "https://instagram.com/reel/x/?igshid=abc&fbclid=1&GCLID=2", "https://instagram.com/reel/x"},
		{"keeps param order", "https://example.com/v?b=2&utm_campaign=c&a=1", "https://example.com/v?b=2&a=1"},
		{"keeps blank values", "https://example.com/v?flag&x=", "https://example.com/v?flag=&x="},
		{"keeps port and userinfo", "http://User@Example.com:8080/p/", "http://User@example.com:8080/p"},
		{"no scheme", "example.com/video/", "example.com/video"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Normalize(c.in))
		})
	}
}

func TestNormalize_TrackingVariantsCollapse(t *testing.T) {
	base := Normalize("https://example.com/video?id=7")
	variants := []string{
		"https://example.com/video?utm_source=x&id=7#top",
		"https://example.com/video/?id=7",
		"https://example.com/video?id=7&fbclid=abc",
		"https://EXAMPLE.com/video?igshid=zz&id=7&utm_term=q",
	}
	for _, v := range variants {
		assert.Equal(t, base, Normalize(v), "variant %q", v)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	in := "HTTPS://Example.com/a/b/?x=1&utm_source=y&z=%20q#frag"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}
