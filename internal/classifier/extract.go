package classifier

import (
	"regexp"
	"strings"
)

var packagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ModuleNotFoundError: No module named ['"]([\w.]+)['"]`),
	regexp.MustCompile(`(?i)ImportError: cannot import name ['"](\w+)['"]`),
	regexp.MustCompile(`(?i)Could not find a version that satisfies the requirement (\S+)`),
	regexp.MustCompile(`(?i)npm ERR! 404\s+'(\S+)' is not in`),
	regexp.MustCompile(`(?i)Package ['"](\w+)['"] not found`),
}

var versionSuffix = regexp.MustCompile(`[<>=!]+.*`)

var testNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`FAILED.*test_(\w+)`),
	regexp.MustCompile(`test_(\w+).*FAILED`),
	regexp.MustCompile(`Error in test_(\w+)`),
}

var stackTracePattern = regexp.MustCompile(`(?s)Traceback \(most recent call last\):.*?(?:\n[ \t]*\n|\z)`)

// ExtractPackage returns the missing package named in a dependency error with
// any version constraint removed, or "" when none is found. Dotted module
// paths are reduced to their top-level package.
func ExtractPackage(log string) string {
	for _, p := range packagePatterns {
		m := p.FindStringSubmatch(log)
		if m == nil {
			continue
		}
		pkg := versionSuffix.ReplaceAllString(m[1], "")
		pkg = strings.Trim(strings.TrimSpace(pkg), `'"`)
		if i := strings.IndexByte(pkg, '.'); i > 0 {
			pkg = pkg[:i]
		}
		if pkg != "" {
			return pkg
		}
	}
	return ""
}

// ExtractTestName returns the failing test in test_<name> form, or "".
func ExtractTestName(log string) string {
	for _, p := range testNamePatterns {
		if m := p.FindStringSubmatch(log); m != nil {
			return "test_" + m[1]
		}
	}
	return ""
}

// ExtractStackTrace returns the first Python traceback paragraph, or "".
func ExtractStackTrace(log string) string {
	return strings.TrimRight(stackTracePattern.FindString(log), " \t\r\n")
}

// lineAround returns the full line of text containing the byte range [start, end).
func lineAround(text string, start, end int) string {
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	lineEnd := len(text)
	if i := strings.IndexByte(text[end:], '\n'); i >= 0 {
		lineEnd = end + i
	}
	return strings.TrimSpace(text[lineStart:lineEnd])
}
