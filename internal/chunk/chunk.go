// Package chunk splits LLM output into Discord-sized messages.
//
// Fenced code blocks are kept intact: a block that overflows the message
// limit is re-fenced across several messages rather than cut mid-fence.
package chunk

import (
	"strings"
)

// MaxMessageLength is Discord's hard per-message character limit.
const MaxMessageLength = 2000

const (
	fence      = "```"
	openFence  = "```\n"
	closeFence = "\n```"
)

type blockKind int

const (
	textBlock blockKind = iota
	codeBlock
)

// block is a transient span of the input, tagged by whether it sat inside a
// code fence.
type block struct {
	kind    blockKind
	content string
}

// Split breaks text into ordered chunks, each at most MaxMessageLength
// characters and never empty. An empty result means the input reduced to
// nothing; callers treat that as "no output".
func Split(text string) []string {
	var chunks []string
	for _, b := range blocks(text) {
		switch b.kind {
		case textBlock:
			chunks = append(chunks, splitText(b.content)...)
		case codeBlock:
			chunks = append(chunks, splitCode(b.content)...)
		}
	}
	return chunks
}

// blocks alternates text and code spans around triple-backtick delimiters.
// The first span is always text, even when the input opens with a fence.
func blocks(text string) []block {
	var out []block
	for i, span := range strings.Split(text, fence) {
		kind := textBlock
		if i%2 == 1 {
			kind = codeBlock
		}
		if kind == textBlock {
			span = strings.TrimSpace(span)
			if span == "" {
				continue
			}
		}
		out = append(out, block{kind: kind, content: span})
	}
	return out
}

// splitText emits one chunk per wrapped paragraph line. Paragraphs are
// delimited by blank lines; runs of three or more newlines behave the same
// as two.
func splitText(text string) []string {
	var chunks []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		for _, line := range wrap(paragraph, MaxMessageLength) {
			if line = strings.TrimSpace(line); line != "" {
				chunks = append(chunks, line)
			}
		}
	}
	return chunks
}

// wrap word-wraps a paragraph to at most width characters per line. Interior
// whitespace between words on the same line is preserved verbatim; tabs are
// not expanded. A single word longer than width is cut at width.
func wrap(paragraph string, width int) []string {
	if len(paragraph) <= width {
		return []string{paragraph}
	}

	var lines []string
	var current strings.Builder
	rest := paragraph
	for len(rest) > 0 {
		// Leading whitespace of the segment, then the next word.
		wordStart := strings.IndexFunc(rest, notSpace)
		if wordStart < 0 {
			break
		}
		space := rest[:wordStart]
		rest = rest[wordStart:]
		wordEnd := strings.IndexFunc(rest, isSpace)
		if wordEnd < 0 {
			wordEnd = len(rest)
		}
		word := rest[:wordEnd]
		rest = rest[wordEnd:]

		switch {
		case current.Len() == 0:
			for len(word) > width {
				lines = append(lines, word[:width])
				word = word[width:]
			}
			current.WriteString(word)
		case current.Len()+len(space)+len(word) <= width:
			current.WriteString(space)
			current.WriteString(word)
		default:
			lines = append(lines, current.String())
			current.Reset()
			for len(word) > width {
				lines = append(lines, word[:width])
				word = word[width:]
			}
			current.WriteString(word)
		}
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

func isSpace(r rune) bool  { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
func notSpace(r rune) bool { return !isSpace(r) }

// splitCode re-fences the span's lines into as many chunks as needed. A
// non-empty first line is a language marker and is dropped, unless nothing
// else survives, in which case the marker is kept as the block's content so
// a marker-only block does not vanish. An empty block still yields one
// empty fenced chunk.
func splitCode(content string) []string {
	lines := strings.Split(content, "\n")

	var languageMarker string
	if lines[0] != "" {
		languageMarker = lines[0]
		lines = lines[1:]
	}

	lines = trimBlankEnds(lines)

	if len(lines) == 0 && languageMarker != "" {
		lines = []string{languageMarker}
	}

	if len(lines) == 0 {
		return []string{openFence + fence}
	}

	// One opening and one closing fence per chunk, one newline per line.
	budget := MaxMessageLength - len(openFence) - len(closeFence)

	var chunks []string
	var chunkLines []string
	length := 0
	for _, line := range lines {
		for len(line) > budget {
			if len(chunkLines) > 0 {
				chunks = append(chunks, fenced(chunkLines))
				chunkLines, length = nil, 0
			}
			chunks = append(chunks, fenced([]string{line[:budget]}))
			line = line[budget:]
		}
		if len(chunkLines) > 0 && length+len(line)+1 > budget {
			chunks = append(chunks, fenced(chunkLines))
			chunkLines, length = nil, 0
		}
		chunkLines = append(chunkLines, line)
		length += len(line) + 1
	}
	if len(chunkLines) > 0 {
		chunks = append(chunks, fenced(chunkLines))
	}
	return chunks
}

func fenced(lines []string) string {
	return openFence + strings.Join(lines, "\n") + closeFence
}

// trimBlankEnds drops empty lines from both ends, leaving interior blank
// lines untouched.
func trimBlankEnds(lines []string) []string {
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return lines[start:end]
}
