package menu

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog format:
//
//	cancel_code: 6
//	max_items: 5
//	items:
//	  - "Number 1: Zinger box meal - $5.99"
type File struct {
	CancelCode int      `yaml:"cancel_code"`
	MaxItems   int      `yaml:"max_items"`
	Items      []string `yaml:"items"`
}

// LoadFile reads a YAML catalog. Values missing from the file fall back to
// defMax and defCancel.
func LoadFile(path string, defMax, defCancel int) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse menu file %s: %w", path, err)
	}
	max := f.MaxItems
	if max == 0 {
		max = defMax
	}
	cancel := f.CancelCode
	if cancel == 0 {
		cancel = defCancel
	}
	return New(f.Items, max, cancel)
}
