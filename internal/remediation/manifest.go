package remediation

import (
	"regexp"
	"strings"
)

var requirementNamePattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// normalizeName folds a requirement name the way pip compares them.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

// requirementName returns the normalised package name declared on one
// requirements line, or "" for blanks, comments and pip options.
func requirementName(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
		return ""
	}
	m := requirementNamePattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return normalizeName(m[1])
}

// AddRequirements appends each package not already declared in a
// requirements manifest. It returns the new content and the packages added,
// in argument order.
func AddRequirements(content string, pkgs ...string) (string, []string) {
	declared := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		if name := requirementName(line); name != "" {
			declared[name] = true
		}
	}

	var added []string
	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	for _, pkg := range pkgs {
		name := normalizeName(pkg)
		if name == "" || declared[name] {
			continue
		}
		declared[name] = true
		b.WriteString(pkg)
		b.WriteString("\n")
		added = append(added, pkg)
	}
	if len(added) == 0 {
		return content, nil
	}
	return b.String(), added
}
