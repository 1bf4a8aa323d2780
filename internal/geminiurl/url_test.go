package geminiurl_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/geminiurl"
)

func TestParseHappyPath(t *testing.T) {
	p, err := geminiurl.Parse([]byte("gemini://localhost/\r\n"), "gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Scheme)
	assert.Equal(t, "localhost", p.Host)
	assert.Equal(t, geminiurl.DefaultPort, p.Port)
	assert.Equal(t, "/", p.Path)
}

func TestParseRejectsOversizeLine(t *testing.T) {
	line := "gemini://localhost/" + strings.Repeat("a", 1100) + "\r\n"
	_, err := geminiurl.Parse([]byte(line), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParseRequiresCRLF(t *testing.T) {
	_, err := geminiurl.Parse([]byte("gemini://localhost/\n"), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParseRejectsUserinfo(t *testing.T) {
	_, err := geminiurl.Parse([]byte("gemini://user@localhost/\r\n"), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParseRejectsFragment(t *testing.T) {
	_, err := geminiurl.Parse([]byte("gemini://localhost/#frag\r\n"), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParseRejectsDisallowedScheme(t *testing.T) {
	_, err := geminiurl.Parse([]byte("https://localhost/\r\n"), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParseAcceptsExplicitDefaultPort(t *testing.T) {
	p, err := geminiurl.Parse([]byte("gemini://localhost:1965/\r\n"), "gemini")
	require.NoError(t, err)
	assert.Equal(t, geminiurl.DefaultPort, p.Port)
}

func TestParseRejectsBadPort(t *testing.T) {
	_, err := geminiurl.Parse([]byte("gemini://localhost:70000/\r\n"), "gemini")
	assert.ErrorIs(t, err, geminiurl.ErrBadRequest)
}

func TestParsePreservesRawQuery(t *testing.T) {
	p, err := geminiurl.Parse([]byte("gemini://localhost/search?q=hello%20world\r\n"), "gemini")
	require.NoError(t, err)
	assert.Equal(t, "q=hello%20world", p.Query)
}

func TestCanonicalizeEmptyIsRoot(t *testing.T) {
	assert.Equal(t, "/", geminiurl.Canonicalize(""))
}

func TestCanonicalizeClampsTraversal(t *testing.T) {
	assert.Equal(t, "/etc/passwd", geminiurl.Canonicalize("/../etc/passwd"))
	assert.Equal(t, "/", geminiurl.Canonicalize("/../../.."))
	assert.False(t, strings.HasPrefix(geminiurl.Canonicalize("/../secret"), ".."))
}

func TestCanonicalizeResolvesDotSegments(t *testing.T) {
	assert.Equal(t, "/a/c", geminiurl.Canonicalize("/a/./b/../c"))
}

func TestParseTitanParams(t *testing.T) {
	p, err := geminiurl.Parse([]byte("titan://host/notes/a.gmi;size=5;mime=text/gemini;token=T\r\n"), "titan")
	require.NoError(t, err)
	assert.Equal(t, "/notes/a.gmi", p.Path)
	assert.EqualValues(t, 5, p.TitanSize)
	assert.Equal(t, "text/gemini", p.TitanMime)
	assert.Equal(t, "T", p.TitanToken)
}

func TestParseTitanDefaultsMime(t *testing.T) {
	p, err := geminiurl.Parse([]byte("titan://host/a.gmi;size=0\r\n"), "titan")
	require.NoError(t, err)
	assert.Equal(t, "text/gemini", p.TitanMime)
	assert.EqualValues(t, 0, p.TitanSize)
}

func TestParseTitanMimeWithPlusSuffixIsNotDecodedAsSpace(t *testing.T) {
	p, err := geminiurl.Parse([]byte("titan://host/a.svg;size=0;mime=image/svg+xml\r\n"), "titan")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", p.TitanMime)
}

func TestParseTitanTokenWithPercentEncodingDecodedOnce(t *testing.T) {
	p, err := geminiurl.Parse([]byte("titan://host/a.gmi;size=0;token=a%2Bb\r\n"), "titan")
	require.NoError(t, err)
	assert.Equal(t, "a+b", p.TitanToken)
}

func TestParseLowercasesHost(t *testing.T) {
	p, err := geminiurl.Parse([]byte("gemini://ExAmple.ORG/\r\n"), "gemini")
	require.NoError(t, err)
	assert.Equal(t, "example.org", p.Host)
}
