package patch

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/adapters"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// editDependency applies one add/pin operation to a manifest. A false
// return with nil error means the file or its shape is not one the
// editors cover and the model fallback should take over.
func editDependency(file, content string, op *model.FixOperation) (string, bool, error) {
	pkg := op.DetailString("package")
	if pkg == "" {
		pkg = op.DetailString("module")
	}
	version := op.DetailString("version")
	if pkg == "" {
		return "", false, fmt.Errorf("%s operation needs a package detail", op.Type)
	}

	switch path.Base(file) {
	case "requirements.txt":
		out, err := editRequirements(content, pkg, version)
		return out, err == nil, err
	case "package.json":
		return editPackageJSON(content, pkg, version)
	case "pyproject.toml":
		return editPyproject(content, pkg, version)
	case "go.mod":
		if version == "" {
			return "", false, fmt.Errorf("go.mod edit needs a version detail")
		}
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
		return adapters.UpsertGoModRequire(content, pkg, version), true, nil
	case "pom.xml":
		return editPomXML(content, pkg, version)
	default:
		return "", false, nil
	}
}

var reqNameRe = regexp.MustCompile(`^([A-Za-z0-9._-]+)`)

// normalizeReqName folds a Python package name the way installers do:
// case-insensitive with '-', '_', and '.' equivalent.
func normalizeReqName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}

func editRequirements(content, pkg, version string) (string, error) {
	spec := pkg
	if version != "" {
		spec = pkg + "==" + version
	}
	target := normalizeReqName(pkg)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
			continue
		}
		m := reqNameRe.FindStringSubmatch(trimmed)
		if m != nil && normalizeReqName(m[1]) == target {
			lines[i] = spec
			return strings.Join(lines, "\n"), nil
		}
	}

	if content == "" {
		return spec + "\n", nil
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + spec + "\n", nil
}

func editPackageJSON(content, pkg, version string) (string, bool, error) {
	if version == "" {
		return "", false, fmt.Errorf("package.json edit needs a version detail")
	}
	open, close_ := findJSONBlock(content, `"dependencies"`)
	if open < 0 {
		return "", false, nil
	}
	block := content[open : close_+1]

	entryRe := regexp.MustCompile(`("` + regexp.QuoteMeta(pkg) + `"\s*:\s*")[^"]*(")`)
	if entryRe.MatchString(block) {
		updated := entryRe.ReplaceAllString(block, "${1}"+version+"${2}")
		return content[:open] + updated + content[close_+1:], true, nil
	}

	// Insert as the first entry, copying the sibling indentation (or
	// guessing two levels when the block is empty).
	inner := content[open+1 : close_]
	indent := "    "
	if m := regexp.MustCompile(`\n([ \t]+)"`).FindStringSubmatch(inner); m != nil {
		indent = m[1]
	}
	entry := "\n" + indent + `"` + pkg + `": "` + version + `"`
	if strings.TrimSpace(inner) != "" {
		entry += ","
	}
	return content[:open+1] + entry + content[open+1:], true, nil
}

// findJSONBlock locates the object value of a top-level key, returning
// the indices of its braces. String-aware, same scan as the JSON
// extractor.
func findJSONBlock(content, key string) (int, int) {
	at := strings.Index(content, key)
	if at < 0 {
		return -1, -1
	}
	open := strings.IndexByte(content[at:], '{')
	if open < 0 {
		return -1, -1
	}
	open += at
	depth := 0
	inStr := false
	escaped := false
	for i := open; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inStr:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return open, i
			}
		}
	}
	return -1, -1
}

func editPyproject(content, pkg, version string) (string, bool, error) {
	lines := strings.Split(content, "\n")
	target := normalizeReqName(pkg)

	// Poetry table.
	if start := findTOMLSection(lines, "tool.poetry.dependencies"); start >= 0 {
		end := start + 1
		for end < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[end]), "[") {
			end++
		}
		v := version
		if v == "" {
			v = "*"
		}
		entry := pkg + ` = "` + v + `"`
		for i := start + 1; i < end; i++ {
			name, _, ok := strings.Cut(strings.TrimSpace(lines[i]), "=")
			if ok && normalizeReqName(strings.TrimSpace(name)) == target {
				lines[i] = entry
				return strings.Join(lines, "\n"), true, nil
			}
		}
		// Append at the end of the table, before any trailing blanks.
		insert := end
		for insert > start+1 && strings.TrimSpace(lines[insert-1]) == "" {
			insert--
		}
		out := append([]string{}, lines[:insert]...)
		out = append(out, entry)
		out = append(out, lines[insert:]...)
		return strings.Join(out, "\n"), true, nil
	}

	// PEP 621 dependencies array, one entry per line.
	entryNameRe := regexp.MustCompile(`^"([A-Za-z0-9._-]+)`)
	for i, line := range lines {
		name, _, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.TrimSpace(name) != "dependencies" {
			continue
		}
		if strings.Contains(line, "]") {
			// Single-line array; reformatting it is the model's job.
			return "", false, nil
		}
		end := i + 1
		for end < len(lines) && strings.TrimSpace(lines[end]) != "]" {
			end++
		}
		if end == len(lines) {
			return "", false, fmt.Errorf("pyproject.toml dependencies array is unterminated")
		}
		spec := pkg
		if version != "" {
			spec = pkg + "==" + version
		}
		indent := "    "
		if m := regexp.MustCompile(`^([ \t]+)"`).FindStringSubmatch(safeLine(lines, i+1)); m != nil {
			indent = m[1]
		}
		entry := indent + `"` + spec + `",`
		for j := i + 1; j < end; j++ {
			m := entryNameRe.FindStringSubmatch(strings.TrimSpace(lines[j]))
			if m != nil && normalizeReqName(m[1]) == target {
				lines[j] = entry
				return strings.Join(lines, "\n"), true, nil
			}
		}
		out := append([]string{}, lines[:end]...)
		out = append(out, entry)
		out = append(out, lines[end:]...)
		return strings.Join(out, "\n"), true, nil
	}

	return "", false, nil
}

func findTOMLSection(lines []string, section string) int {
	header := "[" + section + "]"
	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}
	return -1
}

func safeLine(lines []string, i int) string {
	if i < 0 || i >= len(lines) {
		return ""
	}
	return lines[i]
}

var pomDepRe = regexp.MustCompile(`(?s)<dependency>.*?</dependency>`)

// editPomXML upserts a Maven coordinate given as "groupId:artifactId".
func editPomXML(content, pkg, version string) (string, bool, error) {
	group, artifact, ok := strings.Cut(pkg, ":")
	if !ok || version == "" {
		return "", false, fmt.Errorf("pom.xml edit needs package \"groupId:artifactId\" and a version detail")
	}

	groupTag := "<groupId>" + group + "</groupId>"
	artifactTag := "<artifactId>" + artifact + "</artifactId>"

	var found bool
	var updateErr error
	updated := pomDepRe.ReplaceAllStringFunc(content, func(block string) string {
		if found || !strings.Contains(block, groupTag) || !strings.Contains(block, artifactTag) {
			return block
		}
		found = true
		versionRe := regexp.MustCompile(`<version>[^<]*</version>`)
		if versionRe.MatchString(block) {
			return versionRe.ReplaceAllString(block, "<version>"+version+"</version>")
		}
		// No version element: pin by inserting one after the artifactId.
		idx := strings.Index(block, artifactTag)
		if idx < 0 {
			updateErr = fmt.Errorf("pom.xml dependency block malformed")
			return block
		}
		lineIndent := indentOf(block, idx)
		at := idx + len(artifactTag)
		return block[:at] + "\n" + lineIndent + "<version>" + version + "</version>" + block[at:]
	})
	if updateErr != nil {
		return "", false, updateErr
	}
	if found {
		return updated, true, nil
	}

	closing := strings.Index(content, "</dependencies>")
	if closing < 0 {
		return "", false, nil
	}
	closeIndent := indentOf(content, closing)
	inner := closeIndent + "    "
	block := inner + "<dependency>\n" +
		inner + "    " + groupTag + "\n" +
		inner + "    " + artifactTag + "\n" +
		inner + "    <version>" + version + "</version>\n" +
		inner + "</dependency>\n"
	lineStart := strings.LastIndexByte(content[:closing], '\n') + 1
	return content[:lineStart] + block + content[lineStart:], true, nil
}

// indentOf returns the leading whitespace of the line containing byte
// offset at.
func indentOf(s string, at int) string {
	start := strings.LastIndexByte(s[:at], '\n') + 1
	end := start
	for end < len(s) && (s[end] == ' ' || s[end] == '\t') {
		end++
	}
	return s[start:end]
}
