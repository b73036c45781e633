package warden

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/slices"
)

// Expectation names the resource a test reads back and the bytes one of
// its rows must hold. A buffer is a single row.
type Expectation struct {
	Buffer string `toml:"buffer"`
	Image  string `toml:"image"`
	Row    int    `toml:"row"`
	Data   []int  `toml:"data"`
}

func (e Expectation) resource() string {
	if e.Buffer != "" {
		return "buffer " + e.Buffer
	}
	return fmt.Sprintf("image %s row %d", e.Image, e.Row)
}

func (e Expectation) bytes() []byte {
	b := make([]byte, len(e.Data))
	for i, v := range e.Data {
		b[i] = byte(v)
	}
	return b
}

type Test struct {
	Scene  string      `toml:"scene"`
	Name   string      `toml:"name"`
	Jobs   []string    `toml:"jobs"`
	Expect Expectation `toml:"expect"`
	// Skip, when set, is the reason the test is not run.
	Skip string `toml:"skip"`
}

// Suite is a list of reference tests grouped by the scene they run in.
type Suite struct {
	Name  string `toml:"name"`
	Tests []Test `toml:"tests"`
}

func ParseSuite(b []byte) (*Suite, error) {
	var s Suite
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func LoadSuite(path string) (*Suite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseSuite(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Suite) Validate() error {
	seen := make(map[string]bool)
	for i, t := range s.Tests {
		if t.Scene == "" || t.Name == "" {
			return fmt.Errorf("test %d: scene and name are required", i)
		}
		key := t.Scene + "/" + t.Name
		if seen[key] {
			return fmt.Errorf("test %s defined twice", key)
		}
		seen[key] = true

		e := t.Expect
		if (e.Buffer == "") == (e.Image == "") {
			return fmt.Errorf("test %s: expect names exactly one of buffer or image", key)
		}
		if e.Buffer != "" && e.Row != 0 {
			return fmt.Errorf("test %s: a buffer has no row %d", key, e.Row)
		}
		if e.Row < 0 {
			return fmt.Errorf("test %s: negative row %d", key, e.Row)
		}
		for _, v := range e.Data {
			if v < 0 || v > 255 {
				return fmt.Errorf("test %s: data value %d is not a byte", key, v)
			}
		}
	}
	return nil
}

// Scenes returns the distinct scene names in sorted order.
func (s *Suite) Scenes() []string {
	var names []string
	for _, t := range s.Tests {
		if !slices.Contains(names, t.Scene) {
			names = append(names, t.Scene)
		}
	}
	slices.Sort(names)
	return names
}

// Group returns the tests of one scene in suite order.
func (s *Suite) Group(sceneName string) []Test {
	var out []Test
	for _, t := range s.Tests {
		if t.Scene == sceneName {
			out = append(out, t)
		}
	}
	return out
}
