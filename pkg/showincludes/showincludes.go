// Package showincludes parses MSVC's /showIncludes diagnostic output,
// which the compiler interleaves with ordinary stdout. This supplements
// the compiler-argument hashing in pkg/hash: an MSVC invocation's include
// set is recovered by scraping stdout rather than by reading dependency
// files, and the result is fed into the manifest's fingerprint set
// (orig: src/ccache/core/msvcshowincludesoutput.cpp,
// src/core/ShowIncludesParser.cpp).
package showincludes

import (
	"strings"
	"unicode"
)

// DefaultPrefix is the English-locale /showIncludes line prefix. Real MSVC
// installs can localize it, so callers with access to the compiler's
// locale should pass the localized prefix instead.
const DefaultPrefix = "Note: including file:"

// Parse scans stdout for /showIncludes lines ("<prefix><spaces><path>")
// and returns the included file paths in the order they appeared. Lines
// are split on both \r and \n; consecutive delimiters yield no empty
// lines.
func Parse(stdout []byte, prefix string) []string {
	var includes []string
	for _, line := range splitLines(string(stdout)) {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimLeftFunc(line[len(prefix):], unicode.IsSpace)
		if rest != "" {
			includes = append(includes, rest)
		}
	}
	return includes
}

// Strip removes every /showIncludes line from stdout, leaving the
// remaining diagnostic output the caller should still forward to its own
// stdout (orig: MsvcShowIncludesOutput::strip_includes). Line endings are
// preserved on the lines that are kept.
func Strip(stdout []byte, prefix string) []byte {
	var kept strings.Builder
	for _, line := range splitLinesKeepEnds(string(stdout)) {
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, prefix) {
			continue
		}
		kept.WriteString(line)
	}
	return []byte(kept.String())
}

// splitLines splits on \r and \n. Unlike the original's split_into_views,
// consecutive delimiter bytes collapse rather than producing empty
// elements, which is harmless here since Parse discards any line that
// doesn't start with prefix anyway.
func splitLines(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

// splitLinesKeepEnds splits content into lines that retain their trailing
// "\n" (or "\r\n"), so Strip can reassemble the kept lines verbatim.
func splitLinesKeepEnds(content string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}
