package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxSize  = 1000
	DefaultOverlap  = 200
	DefaultMinChars = 50
)

var sentenceEnd = regexp.MustCompile(`[.!?]+\s*`)

// Split carves text into retrieval-sized chunks. Sentences are accumulated
// greedily up to maxSize runes; when a sentence would overflow, the buffer
// is flushed and the next one is seeded with roughly overlap/10 trailing
// words of the flushed chunk. Sentences that alone exceed maxSize are packed
// word by word so no chunk ever overflows. Chunks shorter than minChars are
// discarded afterwards, except that non-empty input never yields an empty
// result: if filtering removes everything, the whole trimmed text comes
// back as a single chunk.
func Split(text string, maxSize, overlap, minChars int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if minChars < 0 {
		minChars = 0
	}

	var (
		chunks []string
		buf    string
	)
	flush := func() string {
		c := strings.TrimSpace(buf)
		buf = ""
		if c != "" {
			chunks = append(chunks, c)
		}
		return c
	}

	for _, sent := range sentences(trimmed) {
		slen := runeLen(sent)
		if slen > maxSize {
			flush()
			packed, rest := packWords(sent, maxSize)
			chunks = append(chunks, packed...)
			if rest != "" {
				buf = rest + " "
			}
			continue
		}
		if buf == "" {
			buf = sent
			continue
		}
		if runeLen(buf)+slen <= maxSize {
			buf += sent
			continue
		}
		flushed := flush()
		seed := tailWords(flushed, overlap/10)
		if seed != "" && runeLen(seed)+1+slen <= maxSize {
			buf = seed + " " + sent
		} else {
			buf = sent
		}
	}
	flush()

	kept := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if runeLen(c) >= minChars {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return []string{trimmed}
	}
	return kept
}

// sentences cuts text after every punctuation terminator plus any trailing
// whitespace, keeping an unterminated tail as the last unit. Concatenating
// the result reproduces the input exactly.
func sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, text[last:])
	}
	return out
}

// packWords greedily packs the words of an oversized sentence into chunks
// that never exceed maxSize; words longer than maxSize are split mid-word.
// The final partial buffer is returned for the caller to keep filling.
func packWords(sent string, maxSize int) ([]string, string) {
	var (
		chunks []string
		buf    string
	)
	add := func(w string) {
		switch {
		case buf == "":
			buf = w
		case runeLen(buf)+1+runeLen(w) <= maxSize:
			buf += " " + w
		default:
			chunks = append(chunks, buf)
			buf = w
		}
	}
	for _, w := range strings.Fields(sent) {
		for runeLen(w) > maxSize {
			if buf != "" {
				chunks = append(chunks, buf)
				buf = ""
			}
			r := []rune(w)
			chunks = append(chunks, string(r[:maxSize]))
			w = string(r[maxSize:])
		}
		if w != "" {
			add(w)
		}
	}
	return chunks, buf
}

// tailWords returns the last n whitespace-separated words of s.
func tailWords(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
