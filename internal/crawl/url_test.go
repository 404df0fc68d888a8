package crawl

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestCanonicalize_Accepts(t *testing.T) {
	t.Parallel()

	base := mustParse(t, "http://example.test/dir/page.html")
	cases := []struct {
		name string
		href string
		want string
	}{
		{"relative path", "other.html", "http://example.test/dir/other.html"},
		{"absolute path", "/top", "http://example.test/top"},
		{"scheme and host lowercased", "HTTP://EXAMPLE.test/Path", "http://example.test/Path"},
		{"fragment dropped", "http://example.test/page?x=1#section", "http://example.test/page?x=1"},
		{"query preserved exactly", "http://example.test/p?b=2&a=1", "http://example.test/p?b=2&a=1"},
		{"trailing slash kept", "http://example.test/", "http://example.test/"},
		{"port kept", "http://example.test:8080/x", "http://example.test:8080/x"},
		{"https", "https://example.test/x", "https://example.test/x"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(base, tc.href)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalize_Rejects(t *testing.T) {
	t.Parallel()

	base := mustParse(t, "http://example.test/")
	cases := []struct {
		name string
		href string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"fragment only", "#top"},
		{"javascript scheme", "javascript:void(0)"},
		{"mailto scheme", "mailto:a@example.test"},
		{"ftp scheme", "ftp://example.test/file"},
		{"image suffix", "/logo.png"},
		{"uppercase suffix", "/DOC.PDF"},
		{"archive suffix", "/bundle.tar"},
		{"stylesheet", "/site.css"},
		{"script", "/app.js"},
		{"feed", "/feed.rss"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Canonicalize(base, tc.href)
			require.ErrorIs(t, err, ErrRejectedURL)
		})
	}
}

func TestCanonicalizeSeed(t *testing.T) {
	t.Parallel()

	got, err := CanonicalizeSeed("HTTP://H.test/")
	require.NoError(t, err)
	require.Equal(t, "http://h.test/", got)

	_, err = CanonicalizeSeed("not a url")
	require.ErrorIs(t, err, ErrInvalidSeed)

	_, err = CanonicalizeSeed("/relative/only")
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("http://a.test/x", "http://a.test/y"))
	require.True(t, SameHost("http://A.test/x", "http://a.test/y"))
	require.False(t, SameHost("http://a.test/x", "http://b.test/x"))
	require.False(t, SameHost("http://a.test/x", "http://sub.a.test/x"))
	require.False(t, SameHost("http://a.test:8080/x", "http://a.test/x"))
	require.False(t, SameHost("://bad", "http://a.test/"))
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.test:8080", Host("http://A.test:8080/x"))
	require.Equal(t, "", Host("://bad"))
}

func TestIsOnionHost(t *testing.T) {
	t.Parallel()

	require.True(t, IsOnionHost("http://expyuzz4wqqyqhjn.onion/"))
	require.True(t, IsOnionHost("https://EXPYUZZ4WQQYQHJN.ONION/page"))
	require.False(t, IsOnionHost("http://example.test/"))
	require.False(t, IsOnionHost("http://onion.example.test/"))
}
