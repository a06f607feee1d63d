package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Template is a commented dotnav.yml spelling out every default.
//
//go:embed dotnav.example.yml
var Template []byte

// WriteTemplate writes Template as dotnav.yml in dir. An existing config
// file is left alone unless force is set; the returned bool reports whether
// the file was written.
func WriteTemplate(dir string, force bool) (string, bool, error) {
	for _, name := range FileNames {
		existing := filepath.Join(dir, name)
		if _, err := os.Stat(existing); err == nil && !force {
			return existing, false, nil
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return existing, false, err
		}
	}
	path := filepath.Join(dir, FileNames[0])
	if err := os.WriteFile(path, Template, 0o644); err != nil {
		return path, false, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, true, nil
}
