package extract

import (
	"strings"
	"unicode/utf8"
)

// decodeText decodes a plain-text payload, treating anything that is not
// valid UTF-8 as Latin-1. NUL runes are stripped either way because the
// text lands in a Postgres text column, which rejects them.
func decodeText(data []byte) string {
	var s string
	if utf8.Valid(data) {
		s = string(data)
	} else {
		s = decodeLatin1(data)
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// decodeLatin1 maps every byte to the code point of the same value. It
// cannot fail, which makes it the terminal fallback of the decode chain.
func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
