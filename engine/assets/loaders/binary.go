package loaders

import (
	"fmt"
	"io"
	"os"
)

// BinaryLoader loads a file verbatim as a []byte.
type BinaryLoader struct {
	// MaxSize rejects larger files when non-zero.
	MaxSize int64
}

func (bl *BinaryLoader) Load(path string) (interface{}, error) {
	return readFile(path, bl.MaxSize)
}

func (bl *BinaryLoader) Unload(interface{}) error {
	return nil
}

// ParsedLoader reads a file and hands its contents to Parse.
type ParsedLoader struct {
	Parse func(b []byte) (interface{}, error)
}

func (pl *ParsedLoader) Load(path string) (interface{}, error) {
	if pl.Parse == nil {
		return nil, fmt.Errorf("no parser for %s", path)
	}
	b, err := readFile(path, 0)
	if err != nil {
		return nil, err
	}
	v, err := pl.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func (pl *ParsedLoader) Unload(interface{}) error {
	return nil
}

func readFile(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if maxSize > 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if fi.Size() > maxSize {
			return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, fi.Size(), maxSize)
		}
	}
	return io.ReadAll(f)
}
