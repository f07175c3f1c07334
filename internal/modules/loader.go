// Package modules maps module names to files on the search path and
// feeds transformed sources to the glue running inside an instance.
package modules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/routes"
)

// Extensions tried, in order, when a module name or relative specifier
// does not name a file directly.
var Extensions = []string{".js", ".mjs", ".cjs", ".ts", ".mts"}

// Spec identifies one module file. Dir is the directory of File.
type Spec struct {
	Name string `json:"name"`
	File string `json:"file"`
	Dir  string `json:"dir"`
}

// Loader resolves modules for one runtime instance. The search path is
// per instance; the source cache is usually shared.
type Loader struct {
	roots   []string
	main    string
	sources *SourceCache
}

// NewLoader returns a loader searching roots in order. A nil cache gets a
// private one.
func NewLoader(roots []string, sources *SourceCache) *Loader {
	if sources == nil {
		sources = NewSourceCache()
	}
	l := &Loader{sources: sources}
	for _, r := range roots {
		l.AddRoot(r)
	}
	return l
}

// AddRoot appends dir to the search path, ignoring duplicates.
func (l *Loader) AddRoot(dir string) {
	if dir == "" {
		return
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	for _, r := range l.roots {
		if r == dir {
			return
		}
	}
	l.roots = append(l.roots, dir)
}

// Roots returns the search path.
func (l *Loader) Roots() []string {
	return append([]string(nil), l.roots...)
}

// SetMain records the entry script so that the "__main__" module name
// resolves to it.
func (l *Loader) SetMain(file string) {
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}
	l.main = file
}

// Find resolves a dotted module name ("app.handlers") against the search
// path.
func (l *Loader) Find(name string) (Spec, error) {
	if name == core.MainModule {
		if l.main == "" {
			return Spec{}, fmt.Errorf("%w: %s (no entry script)", core.ErrModuleNotFound, name)
		}
		return Spec{Name: name, File: l.main, Dir: filepath.Dir(l.main)}, nil
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, `/\`) {
			return Spec{}, fmt.Errorf("%w: invalid module name %q", core.ErrModuleNotFound, name)
		}
	}
	for _, root := range l.roots {
		if file, ok := lookupFile(filepath.Join(append([]string{root}, parts...)...)); ok {
			return Spec{Name: name, File: file, Dir: filepath.Dir(file)}, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %s", core.ErrModuleNotFound, name)
}

// Resolve handles a require() call made from the module in file from.
// Relative and absolute specifiers are resolved against the filesystem;
// anything else is treated as a module name, with "/" accepted in place
// of ".".
func (l *Loader) Resolve(from, request string) (Spec, error) {
	if !isPathSpecifier(request) {
		name := strings.TrimSuffix(request, filepath.Ext(request))
		return l.Find(strings.ReplaceAll(name, "/", "."))
	}
	target := request
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(from), request)
	}
	file, ok := lookupFile(target)
	if !ok {
		return Spec{}, fmt.Errorf("%w: cannot resolve %q from %s", core.ErrModuleNotFound, request, from)
	}
	if file == l.main {
		return Spec{Name: core.MainModule, File: file, Dir: filepath.Dir(file)}, nil
	}
	return Spec{Name: l.nameFor(file), File: file, Dir: filepath.Dir(file)}, nil
}

// Source returns the CommonJS source of file.
func (l *Loader) Source(file string) (string, error) {
	return l.sources.Load(file)
}

// nameFor derives the module name of a file from the first root that
// contains it, so that the name resolves back to the same file via Find.
func (l *Loader) nameFor(file string) string {
	for _, root := range l.roots {
		rel, err := filepath.Rel(root, file)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if name := routes.ModuleFromFile(file, root); name != core.MainModule {
			return name
		}
	}
	// Outside every root: the file path keeps names unique.
	return file
}

// Install registers the finder functions the glue calls into.
func (l *Loader) Install(rt core.JSRuntime) error {
	encode := func(s Spec, err error) (string, error) {
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(s)
		return string(data), err
	}
	if err := rt.RegisterFunc("__turbox_find", func(name string) (string, error) {
		return encode(l.Find(name))
	}); err != nil {
		return fmt.Errorf("registering __turbox_find: %w", err)
	}
	if err := rt.RegisterFunc("__turbox_resolve", func(from, request string) (string, error) {
		return encode(l.Resolve(from, request))
	}); err != nil {
		return fmt.Errorf("registering __turbox_resolve: %w", err)
	}
	if err := rt.RegisterFunc("__turbox_source", l.Source); err != nil {
		return fmt.Errorf("registering __turbox_source: %w", err)
	}
	return nil
}

func isPathSpecifier(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		s == "." || s == ".." || filepath.IsAbs(s)
}

// lookupFile finds the file a module path refers to: the path itself when it
// has an extension, then path+ext, then path/index+ext.
func lookupFile(base string) (string, bool) {
	if filepath.Ext(base) != "" && isFile(base) {
		return base, true
	}
	for _, ext := range Extensions {
		if isFile(base + ext) {
			return base + ext, true
		}
	}
	for _, ext := range Extensions {
		p := filepath.Join(base, "index"+ext)
		if isFile(p) {
			return p, true
		}
	}
	return "", false
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
