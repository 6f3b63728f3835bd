package patch

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// IssueCodeParse tags every syntax gate finding.
const IssueCodeParse = "post_patch_parse"

// GateIssue is one parse failure found after patching.
type GateIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckSyntax parses every patched file that has a supported syntax.
// It runs before sandbox validation: a patch that does not even parse
// never earns a container. Unsupported extensions are skipped, the
// sandbox still exercises them.
func CheckSyntax(files map[string]string) []GateIssue {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var issues []GateIssue
	add := func(p string, err error) {
		issues = append(issues, GateIssue{File: p, Code: IssueCodeParse, Message: err.Error()})
	}

	for _, p := range paths {
		content := files[p]
		switch strings.ToLower(path.Ext(p)) {
		case ".go":
			fset := token.NewFileSet()
			if _, err := parser.ParseFile(fset, p, content, 0); err != nil {
				add(p, err)
			}
		case ".py":
			if err := checkPythonStructure(content); err != nil {
				add(p, err)
			}
		case ".json":
			var v any
			if err := json.Unmarshal([]byte(content), &v); err != nil {
				add(p, err)
			}
		case ".yaml", ".yml":
			var v any
			if err := yaml.Unmarshal([]byte(content), &v); err != nil {
				add(p, err)
			}
		}
	}
	return issues
}

// checkPythonStructure validates line structure without a full parser:
// bracket balance, string termination, per-line indentation consistency,
// and block openers followed by an indented body.
func checkPythonStructure(content string) error {
	lines := strings.Split(content, "\n")
	depth := 0
	var triple byte

	type opener struct {
		line   int
		indent int
	}
	var pending *opener

	for i, line := range lines {
		inString := triple != 0
		stripped, d, t, err := stripPythonLine(line, i+1, triple)
		if err != nil {
			return err
		}
		triple = t

		code := strings.TrimSpace(stripped)
		if depth == 0 && !inString && code != "" {
			indent, mixed := measureIndent(line)
			if mixed {
				return fmt.Errorf("line %d: mixed tabs and spaces in indentation", i+1)
			}
			if pending != nil {
				if indent <= pending.indent {
					return fmt.Errorf("line %d: expected an indented block after line %d", i+1, pending.line)
				}
				pending = nil
			}
			if strings.HasSuffix(code, ":") && isBlockOpener(code) {
				pending = &opener{line: i + 1, indent: indent}
			}
		}
		depth += d
		if depth < 0 {
			return fmt.Errorf("line %d: unbalanced closing bracket", i+1)
		}
	}
	if triple != 0 {
		return fmt.Errorf("unterminated triple-quoted string at end of file")
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced brackets at end of file")
	}
	if pending != nil {
		return fmt.Errorf("line %d: block opener has no body", pending.line)
	}
	return nil
}

// stripPythonLine removes string literals and comments from one line,
// returning the remaining code, the net bracket depth change, and the
// open triple-quote delimiter carried into the next line (0 when the
// line ends outside any triple-quoted string).
func stripPythonLine(line string, lineno int, triple byte) (string, int, byte, error) {
	var code []byte
	depth := 0
	i := 0

	if triple != 0 {
		closer := strings.Repeat(string(triple), 3)
		end := strings.Index(line, closer)
		if end < 0 {
			return "", 0, triple, nil
		}
		i = end + 3
	}

	for i < len(line) {
		c := line[i]
		switch c {
		case '#':
			return string(code), depth, 0, nil
		case '\'', '"':
			if i+2 < len(line) && line[i+1] == c && line[i+2] == c {
				end := strings.Index(line[i+3:], strings.Repeat(string(c), 3))
				if end < 0 {
					return string(code), depth, c, nil
				}
				i += 3 + end + 3
				continue
			}
			end := -1
			for j := i + 1; j < len(line); j++ {
				if line[j] == '\\' {
					j++
					continue
				}
				if line[j] == c {
					end = j
					break
				}
			}
			if end < 0 {
				if strings.HasSuffix(line, "\\") {
					return string(code), depth, 0, nil
				}
				return "", 0, 0, fmt.Errorf("line %d: unterminated string literal", lineno)
			}
			i = end + 1
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		code = append(code, c)
		i++
	}
	return string(code), depth, 0, nil
}

func measureIndent(line string) (int, bool) {
	spaces, tabs := 0, 0
	for _, c := range line {
		if c == ' ' {
			spaces++
		} else if c == '\t' {
			tabs++
		} else {
			break
		}
	}
	return spaces + tabs*8, spaces > 0 && tabs > 0
}

var blockKeywords = []string{"def ", "async ", "class ", "if ", "elif ", "else", "for ", "while ", "try", "except", "finally", "with ", "match ", "case "}

func isBlockOpener(code string) bool {
	for _, kw := range blockKeywords {
		if strings.HasPrefix(code, kw) || code == strings.TrimSpace(kw)+":" {
			return true
		}
	}
	return false
}
