package javascript

import (
	"fmt"
	"regexp"
	"strings"
)

// Module sources are evaluated by rewriting export declarations into plain
// bindings and resolving the entry from the recorded export table. Import
// statements are not supported: dependency resolution for ES modules is out
// of scope, and CommonJS require covers the dependency map.

var (
	exportFuncRe    = regexp.MustCompile(`^(\s*)export\s+(async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	exportClassRe   = regexp.MustCompile(`^(\s*)export\s+class\s+([A-Za-z_$][\w$]*)`)
	exportVarRe     = regexp.MustCompile(`^(\s*)export\s+(const|let|var)\s+([A-Za-z_$][\w$]*)`)
	exportDefaultRe = regexp.MustCompile(`^(\s*)export\s+default\s+`)
	exportListRe    = regexp.MustCompile(`^\s*export\s*\{([^}]*)\}\s*;?\s*$`)
	importRe        = regexp.MustCompile(`^\s*import\b`)
)

// transformModule rewrites an ES module source for script evaluation and
// returns the export table (exported name -> local binding).
func transformModule(source string) (string, map[string]string, error) {
	exports := make(map[string]string)
	lines := strings.Split(source, "\n")

	for i, line := range lines {
		switch {
		case importRe.MatchString(line):
			return "", nil, fmt.Errorf("import declarations are not supported in module sources")

		case exportListRe.MatchString(line):
			inner := exportListRe.FindStringSubmatch(line)[1]
			for _, clause := range strings.Split(inner, ",") {
				clause = strings.TrimSpace(clause)
				if clause == "" {
					continue
				}
				parts := strings.Fields(clause)
				if len(parts) == 3 && parts[1] == "as" {
					exports[parts[2]] = parts[0]
				} else {
					exports[parts[0]] = parts[0]
				}
			}
			lines[i] = ""

		case exportFuncRe.MatchString(line):
			m := exportFuncRe.FindStringSubmatch(line)
			exports[m[3]] = m[3]
			lines[i] = strings.Replace(line, "export ", "", 1)

		case exportClassRe.MatchString(line):
			m := exportClassRe.FindStringSubmatch(line)
			exports[m[2]] = m[2]
			lines[i] = strings.Replace(line, "export ", "", 1)

		case exportVarRe.MatchString(line):
			m := exportVarRe.FindStringSubmatch(line)
			exports[m[3]] = m[3]
			lines[i] = strings.Replace(line, "export ", "", 1)

		case exportDefaultRe.MatchString(line):
			exports["default"] = "__faas_default__"
			lines[i] = exportDefaultRe.ReplaceAllString(line, "${1}var __faas_default__ = ")
		}
	}

	return strings.Join(lines, "\n"), exports, nil
}
