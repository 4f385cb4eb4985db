package verify

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/repairloop/internal/fileutil"
)

//go:embed templates/ts_project/*
var tsTemplates embed.FS

// scaffoldFiles maps project-relative destinations to embedded templates.
var scaffoldFiles = map[string]string{
	"package.json":  "templates/ts_project/package.json",
	"tsconfig.json": "templates/ts_project/tsconfig.json",
	"runner.js":     "templates/ts_project/runner.js",
}

// TSProject is a materialized compiler project around one candidate.
type TSProject struct {
	Root     string
	Solution string // <Root>/src/solution.ts
}

// EnsureTSProject materializes the compiler project around sourceFile and
// returns its layout. It is idempotent: files already holding the template
// content are left untouched. The project root is the parent of a "src"
// directory, or the file's own directory otherwise; a candidate anywhere
// other than <root>/src/solution.ts is copied there.
func EnsureTSProject(sourceFile string) (*TSProject, error) {
	abs, err := filepath.Abs(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sourceFile, err)
	}
	dir := filepath.Dir(abs)
	root := dir
	if filepath.Base(dir) == "src" {
		root = filepath.Dir(dir)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	for dest, tmpl := range scaffoldFiles {
		if err := writeTemplate(filepath.Join(root, dest), tmpl); err != nil {
			return nil, err
		}
	}

	p := &TSProject{Root: root, Solution: filepath.Join(root, "src", "solution.ts")}
	if abs != p.Solution {
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read candidate: %w", err)
		}
		if err := fileutil.WriteAtomic(p.Solution, data); err != nil {
			return nil, fmt.Errorf("place candidate: %w", err)
		}
	} else if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := writeTemplate(abs, "templates/ts_project/solution.ts"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func writeTemplate(dest, name string) error {
	want, err := tsTemplates.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if have, err := os.ReadFile(dest); err == nil && bytes.Equal(have, want) {
		return nil
	}
	if err := fileutil.WriteAtomic(dest, want); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	return nil
}
