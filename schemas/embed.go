// Package schemas embeds the JSON Schema documents shipped with levelup.
package schemas

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

// Schema file names.
const (
	Curriculum   = "curriculum.schema.json"
	ReviewReport = "review_report.schema.json"
	UserState    = "user_state.schema.json"
)

//go:embed *.schema.json
var files embed.FS

// Read returns the raw content of an embedded schema.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %q not found: %w", name, err)
	}
	return data, nil
}

// List returns the names of all embedded schemas.
func List() []string {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
