package routes

import (
	"path/filepath"
	"strings"

	"github.com/cryguy/turbox/internal/core"
)

// packageInit is the file stem that stands for its directory, the way
// index.js does for a Node-style package.
const packageInit = "index"

// ModuleFromFile derives a dotted module name from a source file.
//
// Inside workDir the path is made relative, the extension of the last
// segment is dropped, a trailing "index" segment is removed and the rest
// is joined with dots: app/controllers/order.js becomes
// app.controllers.order. Outside workDir only the base name without
// extension is used. If nothing is left, the result is core.MainModule.
func ModuleFromFile(file, workDir string) string {
	abs := file
	if !filepath.IsAbs(abs) && workDir != "" {
		abs = filepath.Join(workDir, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(filepath.Clean(workDir), abs)
	if workDir == "" || err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return stem(filepath.Base(abs))
	}

	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(rel), "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		parts[len(parts)-1] = stem(parts[len(parts)-1])
	}
	if len(parts) > 0 && parts[len(parts)-1] == packageInit {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return core.MainModule
	}
	return strings.Join(parts, ".")
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
