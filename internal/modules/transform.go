package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// SourceCache holds transformed module sources keyed by absolute file
// path. It stores plain strings, never engine values, so one cache is
// shared by every instance in the process. Entries live until the process
// exits; edits to a module on disk are not picked up.
type SourceCache struct {
	entries sync.Map // string -> string
}

// NewSourceCache returns an empty cache.
func NewSourceCache() *SourceCache {
	return &SourceCache{}
}

// Len returns the number of cached sources.
func (c *SourceCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Load returns the CommonJS source for file, transforming it on first use.
func (c *SourceCache) Load(file string) (string, error) {
	if v, ok := c.entries.Load(file); ok {
		return v.(string), nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	code, err := Transform(file, string(raw))
	if err != nil {
		return "", err
	}
	v, _ := c.entries.LoadOrStore(file, code)
	return v.(string), nil
}

// Transform converts one module source to CommonJS so the glue can run it
// with a plain function wrapper. Sources that neither import nor export
// and are not TypeScript are returned unchanged.
func Transform(file, source string) (string, error) {
	loader := loaderFor(file)
	if loader == esbuild.LoaderJS && !needsTransform(source) {
		return source, nil
	}

	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     loader,
		Format:     esbuild.FormatCommonJS,
		Target:     esbuild.ES2020,
		Platform:   esbuild.PlatformNeutral,
		Sourcefile: file,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			if e.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d: %s", e.Location.Line, e.Location.Column, e.Text))
			} else {
				msgs = append(msgs, e.Text)
			}
		}
		return "", fmt.Errorf("transforming %s: %s", file, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

func loaderFor(file string) esbuild.Loader {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".ts", ".mts", ".cts":
		return esbuild.LoaderTS
	case ".tsx":
		return esbuild.LoaderTSX
	case ".jsx":
		return esbuild.LoaderJSX
	default:
		return esbuild.LoaderJS
	}
}

// needsTransform reports whether a script uses ES module syntax.
func needsTransform(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "export ") ||
		strings.Contains(source, "export{") ||
		strings.Contains(source, "export*")
}
