package source

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"codeberg.org/readeck/go-readability"
	"golang.org/x/text/unicode/norm"
)

// ExtractPlainText runs readability over an HTML document and returns the
// main article text. Fails on empty input or when nothing readable remains.
func ExtractPlainText(html []byte) (string, string, error) {
	if len(html) == 0 {
		return "", "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(html), nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", "", fmt.Errorf("no content extracted from HTML data")
	}

	return article.Title, NormalizeText(text), nil
}

// NormalizeText canonicalizes extracted text: NFC normalization, control
// characters stripped, CRLF folded, runs of blank lines collapsed.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	blankRun := 0
	for _, r := range s {
		if r == '\n' {
			blankRun++
			if blankRun <= 2 {
				b.WriteRune(r)
			}
			continue
		}
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		blankRun = 0
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// firstLine returns the first non-empty line, for commit-style titles.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
