package domain

import (
	"path"
	"strings"
	"unicode"
)

// ObjectKey maps an original upload name to an object key. Directory
// components and control characters are dropped; the result is otherwise
// stable, so the same name always maps to the same key.
func ObjectKey(prefix, originalName string) string {
	name := strings.ReplaceAll(originalName, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, " .")

	if len(name) > 255 {
		ext := path.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		// ToValidUTF8 drops a rune split by the cut.
		name = strings.ToValidUTF8(name[:255-len(ext)], "") + ext
	}
	if name == "" || name == "/" {
		name = "unnamed"
	}
	return prefix + name
}
