// Package pathutil normalizes and validates namespace paths. Every path handled
// by the core is absolute, slash-separated and relative to an owner root "/".
package pathutil

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/google/uuid"
)

const Root = "/"

const maxNameLength = 255

// Clean normalizes p to an absolute path without duplicate or trailing
// separators. It rejects empty input, ".." segments that would escape the
// root, and names Name would reject.
func Clean(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", apperr.E("path.clean", p, apperr.ErrInvalidPath, nil)
	}
	if strings.ContainsRune(p, 0) || strings.Contains(p, `\`) || !utf8.ValidString(p) {
		return "", apperr.E("path.clean", p, apperr.ErrInvalidPath, nil)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", apperr.E("path.clean", p, apperr.ErrInvalidPath, nil)
		}
	}

	cleaned := path.Clean(p)
	for _, segment := range Segments(cleaned) {
		if err := ValidateName(segment); err != nil {
			return "", err
		}
	}
	return cleaned, nil
}

// ValidateName checks a single leaf name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return apperr.E("path.name", name, apperr.ErrInvalidPath, nil)
	case strings.ContainsAny(name, "/\\\x00"):
		return apperr.E("path.name", name, apperr.ErrInvalidPath, nil)
	case len(name) > maxNameLength:
		return apperr.E("path.name", name[:32]+"...", apperr.ErrInvalidPath, nil)
	case strings.TrimSpace(name) != name:
		return apperr.E("path.name", name, apperr.ErrInvalidPath, nil)
	}
	return nil
}

func Join(parent, name string) string {
	if parent == Root || parent == "" {
		return Root + name
	}
	return parent + "/" + name
}

func Parent(p string) string {
	if p == Root {
		return Root
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

func Base(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// Segments splits a cleaned path into its names. The root has none.
func Segments(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Within reports whether p equals ancestor or lies below it.
func Within(p, ancestor string) bool {
	if ancestor == Root {
		return true
	}
	return p == ancestor || strings.HasPrefix(p, ancestor+"/")
}

// Depth counts the segments of p below scope; direct children have depth 1.
func Depth(p, scope string) int {
	return len(Segments(p)) - len(Segments(scope))
}

// OwnerRoot is the store path holding an owner's namespace.
func OwnerRoot(ownerID uuid.UUID) string {
	return Root + ownerID.String()
}

// StorePath maps an owner-relative path onto the store tree.
func StorePath(ownerID uuid.UUID, p string) string {
	if p == Root {
		return OwnerRoot(ownerID)
	}
	return OwnerRoot(ownerID) + p
}
