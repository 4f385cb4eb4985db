package patch

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxRenameDistance bounds how far a misspelling may be from the symbol it
// is corrected to.
const maxRenameDistance = 2

// renameSymbol corrects an undefined name to the closest symbol the module
// defines, by edit distance.
type renameSymbol struct{}

func (renameSymbol) ID() string { return "rename_symbol_patcher" }

func (renameSymbol) CanApply(ctx Context) bool {
	return missingImport{}.CanApply(ctx)
}

func (p renameSymbol) Apply(ctx Context) *Result {
	m := pyNameErrorRe.FindStringSubmatch(ctx.combined())
	if m == nil {
		return nil
	}
	missing := m[1]

	symbols, ok := pythonSymbols([]byte(ctx.Code))
	if !ok || symbols[missing] {
		return nil
	}
	best := closestSymbol(missing, symbols)
	if best == "" {
		return nil
	}
	patched, ok := replaceFirstWord(ctx.Code, missing, best)
	if !ok {
		return nil
	}
	return &Result{PatchedCode: patched, PatcherID: p.ID(), Summary: fmt.Sprintf("renamed symbol %s -> %s", missing, best)}
}

// pythonSymbols collects the names a module binds: functions and their
// parameters, classes, plain assignment targets and imports. ok is false
// when the source does not parse.
func pythonSymbols(src []byte) (map[string]bool, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, false
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return nil, false
	}

	symbols := map[string]bool{}
	text := func(n *sitter.Node) string { return n.Content(src) }
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				symbols[text(name)] = true
			}
			if params := n.ChildByFieldName("parameters"); params != nil {
				for i := 0; i < int(params.NamedChildCount()); i++ {
					if name := paramName(params.NamedChild(i)); name != nil {
						symbols[text(name)] = true
					}
				}
			}
		case "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				symbols[text(name)] = true
			}
		case "assignment":
			if left := n.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
				symbols[text(left)] = true
			}
		case "import_statement", "import_from_statement":
			module := n.ChildByFieldName("module_name")
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if module != nil && child.StartByte() == module.StartByte() {
					continue
				}
				if name := importedName(child, src, n.Type() == "import_statement"); name != "" {
					symbols[name] = true
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return symbols, true
}

// paramName returns the identifier of a plain positional parameter,
// including annotated and defaulted ones.
func paramName(n *sitter.Node) *sitter.Node {
	switch n.Type() {
	case "identifier":
		return n
	case "default_parameter", "typed_default_parameter":
		return n.ChildByFieldName("name")
	case "typed_parameter":
		if n.NamedChildCount() > 0 && n.NamedChild(0).Type() == "identifier" {
			return n.NamedChild(0)
		}
	}
	return nil
}

// importedName is the name an import binds. "import a.b" binds "a";
// "from m import a.b" keeps the dotted name.
func importedName(n *sitter.Node, src []byte, topLevelOnly bool) string {
	switch n.Type() {
	case "aliased_import":
		if alias := n.ChildByFieldName("alias"); alias != nil {
			return alias.Content(src)
		}
	case "dotted_name":
		if topLevelOnly && n.NamedChildCount() > 0 {
			return n.NamedChild(0).Content(src)
		}
		return n.Content(src)
	}
	return ""
}

// closestSymbol picks the symbol within maxRenameDistance of name, breaking
// ties by length and then lexically.
func closestSymbol(name string, symbols map[string]bool) string {
	candidates := make([]string, 0, len(symbols))
	for s := range symbols {
		candidates = append(candidates, s)
	}
	sort.Strings(candidates)

	best, bestDist := "", maxRenameDistance+1
	for _, s := range candidates {
		d := levenshtein(name, s)
		if d > maxRenameDistance {
			continue
		}
		if d < bestDist || d == bestDist && len(s) < len(best) {
			best, bestDist = s, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ra {
		curr := make([]int, len(rb)+1)
		curr[0] = i + 1
		for j, cb := range rb {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}
		prev = curr
	}
	return prev[len(rb)]
}

// replaceFirstWord replaces the first whole-word occurrence of from.
func replaceFirstWord(code, from, to string) (string, bool) {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(from) + `\b`)
	loc := re.FindStringIndex(code)
	if loc == nil {
		return code, false
	}
	patched := code[:loc[0]] + to + code[loc[1]:]
	return patched, patched != code
}
