package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Dangerous markup stripped by SanitizeHTML. Script is handled with its
// content; the rest are removed as tags in paired and self-closing forms.
var dangerousTags = []string{"script", "iframe", "object", "embed", "link", "meta", "style"}

var (
	pairedTagPatterns  []*regexp.Regexp
	orphanTagPatterns  []*regexp.Regexp
	suspiciousPatterns []suspiciousPattern
)

type suspiciousPattern struct {
	re   *regexp.Regexp
	desc string
}

func init() {
	for _, tag := range dangerousTags {
		pairedTagPatterns = append(pairedTagPatterns,
			regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*?</`+tag+`\s*>`))
		orphanTagPatterns = append(orphanTagPatterns,
			regexp.MustCompile(`(?is)</?`+tag+`\b[^>]*/?>`))
	}

	suspiciousPatterns = []suspiciousPattern{
		{regexp.MustCompile(`(?is)\b(union\s+(all\s+)?select|select\s+.+\s+from|insert\s+into|update\s+\S+\s+set|delete\s+from|drop\s+(table|database)|truncate\s+table)\b`),
			"SQL statement pattern"},
		{regexp.MustCompile(`(?is)['"]\s*(or|and)\s+['"]?[\w]+['"]?\s*=\s*['"]?[\w]+`),
			"SQL tautology pattern"},
		{regexp.MustCompile(`(?is);\s*(drop|delete|update|insert|alter|exec|execute)\b`),
			"piggybacked SQL statement"},
		{regexp.MustCompile(`(?m)--\s*$`),
			"trailing SQL comment"},
		{regexp.MustCompile(`(?s)/\*.*?\*/`),
			"SQL block comment"},
	}
}

// SanitizeText strips control characters (keeping tab, newline and
// carriage return), truncates to maxLength runes when positive, and
// trims surrounding whitespace.
func SanitizeText(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	cleaned := strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, text)

	if maxLength > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLength {
			cleaned = string(runes[:maxLength])
		}
	}

	return strings.TrimSpace(cleaned)
}

// SanitizeHTML removes script blocks and a fixed list of dangerous tags
// (iframe, object, embed, link, meta, style), case-insensitively, in
// both paired and self-closing forms. Best-effort tag stripping on
// strings, not an HTML parser.
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}

	cleaned := html
	for _, re := range pairedTagPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	for _, re := range orphanTagPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	return cleaned
}

// CheckSuspiciousPatterns flags classic SQL-injection signatures. This
// is a heuristic denylist, not a parser; treat it as best-effort input
// hygiene, never as a security boundary.
func CheckSuspiciousPatterns(text string) ValidationResult {
	result := OK()
	if text == "" {
		return result
	}

	for _, p := range suspiciousPatterns {
		if p.re.MatchString(text) {
			result.AddError(fmt.Sprintf("input contains a %s", p.desc))
		}
	}
	return result
}

// ValidateFilePath reports whether path is safe to use relative to an
// allowed root. Empty paths, parent-directory segments, absolute paths,
// Windows drive or UNC forms, and NUL bytes are all rejected. Used to
// stop path traversal when tool configs reference files.
func ValidateFilePath(path string) bool {
	if path == "" {
		return false
	}
	if strings.ContainsRune(path, 0) {
		return false
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return false
	}
	// Windows drive form (C:...)
	if len(path) >= 2 && path[1] == ':' {
		return false
	}

	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}
