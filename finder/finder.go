// Package finder locates executables by name on the search path, applying
// platform-appropriate suffixes.
package finder

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Finder searches a list of directories for an executable file.
type Finder struct {
	// restricted, when non-empty, replaces the PATH-derived directory
	// list entirely (the open_basedir analogue).
	restricted []string
}

type Option func(f *Finder)

// WithRestrictedDirs limits the search to exactly these directories,
// ignoring PATH and any extra dirs passed to Find.
func WithRestrictedDirs(dirs ...string) Option {
	return func(f *Finder) {
		f.restricted = dirs
	}
}

func New(opts ...Option) *Finder {
	f := &Finder{}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Find returns the full path of the first executable named name found in
// the search directories, or dflt if none matches.
func (f *Finder) Find(name, dflt string, extraDirs ...string) string {
	dirs := f.restricted
	if len(dirs) == 0 {
		dirs = filepath.SplitList(os.Getenv("PATH"))
		dirs = append(dirs, extraDirs...)
	}

	for _, suffix := range suffixes() {
		for _, dir := range dirs {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, name+suffix)
			if isExecutable(candidate) {
				return candidate
			}
		}
	}
	return dflt
}

// Find locates name using a default Finder.
func Find(name, dflt string, extraDirs ...string) string {
	return New().Find(name, dflt, extraDirs...)
}

func suffixes() []string {
	if runtime.GOOS != "windows" {
		return []string{""}
	}
	pathExt := os.Getenv("PATHEXT")
	if pathExt == "" {
		return []string{".exe", ".bat", ".cmd", ".com"}
	}
	var out []string
	for _, ext := range strings.Split(pathExt, ";") {
		if ext != "" {
			out = append(out, strings.ToLower(ext))
		}
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		// the suffix already encodes executability
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
