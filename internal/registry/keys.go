package registry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// HubKey derives the hub reference of a component file from its path
// relative to the registry root.
func HubKey(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	parts := strings.Split(rel, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.Contains(p, ":") {
			return "", fmt.Errorf("path %q cannot be turned into a hub reference", rel)
		}
	}
	switch len(parts) {
	case 1, 2:
		return strings.Join(parts, "/"), nil
	case 3:
		return parts[0] + "/" + parts[1] + ":" + parts[2], nil
	}
	return "", fmt.Errorf("path %q is nested too deep; expected [owner/]name[/tag]", rel)
}

// presetKey is the name a preset is registered under.
func presetKey(name *string, path string) string {
	if name != nil && *name != "" {
		return *name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
