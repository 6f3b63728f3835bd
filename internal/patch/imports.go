package patch

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// removeUnusedImport drops the named import from a source file. Matching
// is line-based; imports this scan cannot find (multi-line constructs,
// wrong name) route to the model fallback via handled=false.
func removeUnusedImport(file, content string, op *model.FixOperation) (string, bool, error) {
	target := op.DetailString("import")
	if target == "" {
		target = op.DetailString("module")
	}
	if target == "" {
		target = op.DetailString("symbol")
	}
	if target == "" {
		return "", false, fmt.Errorf("remove_unused operation needs an import detail")
	}

	var out string
	var found bool
	switch strings.ToLower(path.Ext(file)) {
	case ".py":
		out, found = removePythonImport(content, target)
	case ".go":
		out, found = removeGoImport(content, target)
	case ".js", ".ts":
		out, found = removeJSImport(content, target)
	default:
		return "", false, nil
	}
	if !found {
		// Not on any single-line import this scan understands; the
		// model fallback gets a chance before the plan is rejected.
		return "", false, nil
	}
	return out, true, nil
}

func removePythonImport(content, target string) (string, bool) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	found := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import "):
			names := splitImportList(strings.TrimPrefix(trimmed, "import "))
			kept := names[:0]
			for _, n := range names {
				if importNameMatches(n, target) {
					found = true
					continue
				}
				kept = append(kept, n)
			}
			if len(kept) == 0 {
				continue
			}
			if len(kept) != len(names) {
				line = indentOfLine(line) + "import " + strings.Join(kept, ", ")
			}
		case strings.HasPrefix(trimmed, "from "):
			rest := strings.TrimPrefix(trimmed, "from ")
			mod, imports, ok := strings.Cut(rest, " import ")
			if !ok {
				break
			}
			if strings.TrimSpace(mod) == target {
				found = true
				continue
			}
			names := splitImportList(strings.Trim(imports, "() "))
			kept := names[:0]
			for _, n := range names {
				if importNameMatches(n, target) {
					found = true
					continue
				}
				kept = append(kept, n)
			}
			if len(kept) == 0 {
				continue
			}
			if len(kept) != len(names) {
				line = indentOfLine(line) + "from " + mod + " import " + strings.Join(kept, ", ")
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), found
}

func removeGoImport(content, target string) (string, bool) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	found := false
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "import (":
			inBlock = true
		case inBlock && trimmed == ")":
			inBlock = false
		case inBlock || strings.HasPrefix(trimmed, "import "):
			if goImportMatches(strings.TrimPrefix(trimmed, "import "), target) {
				found = true
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), found
}

// goImportMatches checks one import spec line (`"path"`, `alias "path"`,
// `_ "path"`) against the target path, its last segment, or its alias.
func goImportMatches(spec, target string) bool {
	spec = strings.TrimSpace(spec)
	alias := ""
	if i := strings.IndexByte(spec, '"'); i > 0 {
		alias = strings.TrimSpace(spec[:i])
		spec = spec[i:]
	}
	p := strings.Trim(spec, `"`)
	if p == "" {
		return false
	}
	return p == target || path.Base(p) == target || alias == target
}

var (
	jsImportFromRe = regexp.MustCompile(`^import\s+(.+?)\s+from\s+['"]([^'"]+)['"]`)
	jsBareImportRe = regexp.MustCompile(`^import\s+['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`^(?:const|let|var)\s+(.+?)\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`)
)

func removeJSImport(content, target string) (string, bool) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	found := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		binding, module := "", ""
		if m := jsImportFromRe.FindStringSubmatch(trimmed); m != nil {
			binding, module = m[1], m[2]
		} else if m := jsBareImportRe.FindStringSubmatch(trimmed); m != nil {
			module = m[1]
		} else if m := jsRequireRe.FindStringSubmatch(trimmed); m != nil {
			binding, module = m[1], m[2]
		} else {
			out = append(out, line)
			continue
		}

		if module == target || jsBindingMatches(binding, target) {
			found = true
			continue
		}
		if newBinding, removed := jsDropNamed(binding, target); removed {
			found = true
			if newBinding == "" {
				continue
			}
			line = indentOfLine(line) + rewriteJSLine(trimmed, binding, newBinding)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), found
}

// jsBindingMatches reports whether the whole import binds only target
// (default import or namespace import).
func jsBindingMatches(binding, target string) bool {
	binding = strings.TrimSpace(binding)
	if binding == target {
		return true
	}
	if strings.HasPrefix(binding, "* as ") {
		return strings.TrimSpace(strings.TrimPrefix(binding, "* as ")) == target
	}
	return false
}

// jsDropNamed removes target from a named import list `{a, b as c}`.
func jsDropNamed(binding, target string) (string, bool) {
	open := strings.IndexByte(binding, '{')
	close_ := strings.IndexByte(binding, '}')
	if open < 0 || close_ < open {
		return binding, false
	}
	names := splitImportList(binding[open+1 : close_])
	kept := names[:0]
	removed := false
	for _, n := range names {
		if importNameMatches(n, target) {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	if !removed {
		return binding, false
	}
	prefix := strings.TrimSpace(strings.TrimSuffix(binding[:open], ","))
	if len(kept) == 0 {
		return strings.TrimSpace(prefix), true
	}
	rebuilt := "{ " + strings.Join(kept, ", ") + " }"
	if prefix != "" {
		rebuilt = prefix + ", " + rebuilt
	}
	return rebuilt, true
}

func rewriteJSLine(line, oldBinding, newBinding string) string {
	return strings.Replace(line, oldBinding, newBinding, 1)
}

// splitImportList splits "a, b as c" into trimmed entries.
func splitImportList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// importNameMatches compares one import entry ("name" or "name as
// alias") against target by either side.
func importNameMatches(entry, target string) bool {
	name, alias, ok := strings.Cut(entry, " as ")
	if ok && strings.TrimSpace(alias) == target {
		return true
	}
	return strings.TrimSpace(name) == target
}

func indentOfLine(line string) string {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return line[:i]
}
