package repo

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// migrationFiles lists the SQL files in a migrations filesystem in
// lexicographical order.
func migrationFiles(filesystem fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
