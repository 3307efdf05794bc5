package zipfile

import (
	"errors"
	"path"
	"strings"

	"github.com/alec-rabold/zipspy/pkg/reader"
)

// cleanPath validates an entry name for extraction and returns it as a
// relative, slash-separated path without a trailing slash. The root itself
// ("./", "") comes back as "".
//
// Names are rejected rather than rewritten: an absolute path, a drive letter,
// a backslash, a NUL byte or any ".." element fails with ErrInsecurePath.
func cleanPath(name string) (string, error) {
	switch {
	case strings.HasPrefix(name, "/"):
		return "", insecure(name, "absolute path")
	case strings.ContainsRune(name, '\\'):
		return "", insecure(name, "backslash in path")
	case strings.ContainsRune(name, 0):
		return "", insecure(name, "NUL in path")
	case len(name) >= 2 && name[1] == ':' && isLetter(name[0]):
		return "", insecure(name, "drive letter in path")
	}
	for _, elem := range strings.Split(name, "/") {
		if elem == ".." {
			return "", insecure(name, "parent directory reference")
		}
	}
	p := path.Clean(name)
	if p == "." {
		return "", nil
	}
	return p, nil
}

// parents returns the ancestors of p, outermost first.
func parents(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func insecure(name, why string) error {
	return reader.NewError(reader.ErrInsecurePath, "extract", name, errors.New(why))
}
