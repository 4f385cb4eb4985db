package verify

import (
	"fmt"
	"regexp"
	"strings"
)

// Offline checks stand in for the compiler when tsc is not installed: a
// literal-return type check, and a transpile to CommonJS that node can
// syntax-check and run.

var (
	declareLineRe = regexp.MustCompile(`(?m)^\s*declare\s+.*?;\s*$`)
	funcHeaderRe  = regexp.MustCompile(`(?m)^([ \t]*)(export\s+)?(async\s+)?function\s+([A-Za-z_$][\w$]*)\s*(?:<[^>(]+>\s*)?\(([^)]*)\)\s*(?::\s*[^{;]+?)?\s*\{`)
	exportConstRe = regexp.MustCompile(`(?m)^([ \t]*)export\s+(const|let|var)\s+([A-Za-z_$][\w$]*)`)
	varAnnotRe    = regexp.MustCompile(`\b(const|let|var)\s+([A-Za-z_$][\w$]*)\s*:\s*[^=;\n]+=`)
	interfaceRe   = regexp.MustCompile(`(?ms)^[ \t]*(export\s+)?(interface|type)\s+\w+[^\n]*?(\{.*?^\}|=[^;]*;)[ \t]*$`)

	typedFuncRe = regexp.MustCompile(`(?s)(?:export\s+)?function\s+([A-Za-z_]\w*)\s*(?:<[^>]+>\s*)?\((.*?)\)\s*:\s*([A-Za-z_][A-Za-z0-9_ |]*)\s*\{(.*?)\}`)
	returnRe    = regexp.MustCompile(`return\s+([^;\n]+)\s*;`)
	numberLitRe = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)
)

// literalReturnDiagnostic reports the first function whose declared return
// type contradicts a literal it returns, in tsc's TS2322 wording.
func literalReturnDiagnostic(source string) string {
	for _, m := range typedFuncRe.FindAllStringSubmatch(source, -1) {
		returnType := strings.Join(strings.Fields(m[3]), " ")
		rm := returnRe.FindStringSubmatch(m[4])
		if rm == nil {
			continue
		}
		inferred := literalType(strings.TrimSpace(rm[1]))
		if inferred == "" || inferred == returnType {
			continue
		}
		switch {
		case returnType == "number" && inferred == "string":
			return "error TS2322: Type 'string' is not assignable to type 'number'."
		case returnType == "string" && inferred == "number":
			return "error TS2322: Type 'number' is not assignable to type 'string'."
		case returnType == "boolean":
			return fmt.Sprintf("error TS2322: Type '%s' is not assignable to type 'boolean'.", inferred)
		}
	}
	return ""
}

func literalType(value string) string {
	switch {
	case numberLitRe.MatchString(value):
		return "number"
	case len(value) >= 2 && (value[0] == '"' && value[len(value)-1] == '"' || value[0] == '\'' && value[len(value)-1] == '\''):
		return "string"
	case value == "true" || value == "false":
		return "boolean"
	}
	return ""
}

// transpileCJS strips the type syntax the task corpus uses and appends a
// module.exports for every exported function and binding.
func transpileCJS(source string) string {
	code := strings.ReplaceAll(source, "\r\n", "\n")
	code = declareLineRe.ReplaceAllString(code, "")
	code = interfaceRe.ReplaceAllString(code, "")

	var exported []string
	seen := map[string]bool{}
	addExport := func(name string) {
		if !seen[name] {
			seen[name] = true
			exported = append(exported, name)
		}
	}

	code = funcHeaderRe.ReplaceAllStringFunc(code, func(header string) string {
		m := funcHeaderRe.FindStringSubmatch(header)
		if m[2] != "" {
			addExport(m[4])
		}
		return fmt.Sprintf("%s%sfunction %s(%s) {", m[1], m[3], m[4], stripParamTypes(m[5]))
	})
	code = exportConstRe.ReplaceAllStringFunc(code, func(decl string) string {
		m := exportConstRe.FindStringSubmatch(decl)
		addExport(m[3])
		return fmt.Sprintf("%s%s %s", m[1], m[2], m[3])
	})
	code = varAnnotRe.ReplaceAllString(code, "$1 $2 =")

	code = strings.TrimRight(code, " \t\n")
	return fmt.Sprintf("%s\n\nmodule.exports = {%s};\n", code, strings.Join(exported, ", "))
}

// stripParamTypes turns "a: number, b?: Map<string, number> = x" into
// "a, b = x".
func stripParamTypes(params string) string {
	if strings.TrimSpace(params) == "" {
		return ""
	}
	var out []string
	for _, p := range splitTopLevel(params) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, rest := p, ""
		if i := strings.Index(p, "="); i >= 0 {
			name, rest = p[:i], p[i:]
		}
		if i := strings.Index(name, ":"); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSuffix(strings.TrimSpace(name), "?")
		if rest != "" {
			out = append(out, name+" "+strings.TrimSpace(rest))
		} else {
			out = append(out, name)
		}
	}
	return strings.Join(out, ", ")
}

// splitTopLevel splits on commas that are not nested in brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<', '(', '[', '{':
			depth++
		case '>', ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
