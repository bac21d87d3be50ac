package extract

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	doc, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte(documentXML))
	require.NoError(t, err)

	rels, err := w.Create("word/_rels/document.xml.rels")
	require.NoError(t, err)
	_, err = rels.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

const wordBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>
<w:p><w:r><w:tab/><w:t>second paragraph</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestExtractPlainText(t *testing.T) {
	e := New(0)

	text, err := e.Extract([]byte("hello world"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	text, err = e.Extract([]byte("# title"), "text/markdown; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "# title", text)
}

func TestExtractTextLatin1Fallback(t *testing.T) {
	e := New(0)

	text, err := e.Extract([]byte{'c', 'a', 'f', 0xe9}, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestExtractTextStripsNUL(t *testing.T) {
	e := New(0)

	text, err := e.Extract([]byte("a\x00b"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestExtractUnsupportedMIME(t *testing.T) {
	e := New(0)

	_, err := e.Extract([]byte("zzz"), "application/zip")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedMIME)
}

func TestExtractImageDataURL(t *testing.T) {
	e := New(0)
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	url, err := e.Extract(raw, "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestExtractImageOverLimit(t *testing.T) {
	e := New(8)

	_, err := e.Extract(bytes.Repeat([]byte{0xff}, 9), "image/jpeg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestExtractCorruptPDF(t *testing.T) {
	e := New(0)

	_, err := e.Extract([]byte("not a pdf at all"), "application/pdf")
	require.Error(t, err)

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, MIMEPDF, extErr.MIMEType)
}

func TestExtractCorruptDocx(t *testing.T) {
	e := New(0)

	_, err := e.Extract([]byte("not a zip archive"), MIMEDocx)
	require.Error(t, err)

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, MIMEDocx, extErr.MIMEType)
}

func TestExtractDocx(t *testing.T) {
	e := New(0)

	text, err := e.Extract(makeDocx(t, wordBody), MIMEDocx)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello world")
	assert.Contains(t, text, "\tsecond paragraph")
}

func TestFlattenDocumentXML(t *testing.T) {
	flat, err := flattenDocumentXML(`<w:document xmlns:w="http://example.com/w"><w:body><w:p><w:r><w:t>one</w:t></w:r></w:p><w:p><w:r><w:t>two</w:t><w:br/><w:t>three</w:t></w:r></w:p></w:body></w:document>`)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", flat)
}

func TestNormalizeMIME(t *testing.T) {
	assert.Equal(t, "text/plain", NormalizeMIME("text/plain; charset=UTF-8"))
	assert.Equal(t, "image/png", NormalizeMIME("IMAGE/PNG"))
	assert.Equal(t, MIMEPDF, NormalizeMIME(MIMEPDF))
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("image/png"))
	assert.True(t, IsImage("image/jpeg; q=1"))
	assert.False(t, IsImage("application/pdf"))
	assert.False(t, IsImage("text/plain"))
}

func TestSupportedTypesCoverDispatch(t *testing.T) {
	e := New(0)
	for _, mt := range SupportedTypes() {
		_, err := e.Extract([]byte("x"), mt)
		assert.NotErrorIs(t, err, ErrUnsupportedMIME, mt)
	}
}
