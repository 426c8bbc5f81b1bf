package confirm

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// skipDirs are directories never worth scanning.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// extensionsByLanguage maps an APV language to candidate file extensions.
var extensionsByLanguage = map[string][]string{
	"python":     {".py"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"go":         {".go"},
	"java":       {".java"},
}

// maxProbeSize bounds how much of a file the usage heuristic reads.
const maxProbeSize = 1 << 20 // 1MB

// DiscoverFiles heuristically narrows the tree under root to files plausibly
// affected by the APV: extension match for the APV's language plus a cheap
// import/usage probe for any affected package name. At most maxFiles paths
// are returned, relative to root.
func DiscoverFiles(root string, a *apv.APV, maxFiles int) ([]string, error) {
	exts := extensionsByLanguage[strings.ToLower(a.Language)]

	var pkgNames [][]byte
	for _, p := range a.AffectedPackages {
		if p.Name != "" {
			pkgNames = append(pkgNames, []byte(p.Name))
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxFiles {
			return filepath.SkipAll
		}
		if len(exts) > 0 && !hasExtension(path, exts) {
			return nil
		}
		if len(pkgNames) > 0 && !mentionsAny(path, pkgNames) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hasExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// mentionsAny reports whether the file's head contains any package name.
// Read errors are treated as "no mention" so a single unreadable file does
// not abort discovery.
func mentionsAny(path string, names [][]byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, maxProbeSize)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return false
	}
	head := buf[:n]
	for _, name := range names {
		if bytes.Contains(head, name) {
			return true
		}
	}
	return false
}
