// Package paramstore is the hierarchical string parameter store hosted by
// the broker. Parameters live in a YAML mapping tree addressed by
// slash-delimited paths such as "pid/roll/p".
package paramstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoDatabase is returned by Get and Set before UseDatabase
	ErrNoDatabase = errors.New("no parameter database selected")
	// ErrNotFound is returned by Get when a level of the path is missing
	ErrNotFound = errors.New("parameter not found")
	// ErrInvalidPath is returned for empty paths or empty path segments
	ErrInvalidPath = errors.New("invalid parameter path")
	// ErrNotLeaf is returned when a path names a subtree where a value is expected
	ErrNotLeaf = errors.New("parameter path names a subtree")
	// ErrNotMapping is returned when a path runs through an existing value
	ErrNotMapping = errors.New("parameter path runs through a value")
	// ErrMalformed is returned when the database file is not a YAML mapping
	ErrMalformed = errors.New("parameter database is not a mapping")
)

// Store is a parameter tree bound to one YAML file. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	file string
	root *yaml.Node
}

// New returns a store with no database selected
func New() *Store {
	return &Store{}
}

// UseDatabase selects the file backing the store and loads it. A missing file
// is an empty tree; it is created on the first Set.
func (s *Store) UseDatabase(file string) error {
	if file == "" {
		return fmt.Errorf("%w: empty database file name", ErrInvalidPath)
	}
	root, err := load(file)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = file
	s.root = root
	return nil
}

// Database returns the selected file, empty when none is selected
func (s *Store) Database() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Set stores value at path, creating missing levels, and persists the tree.
// The change is applied to a copy; the store only sees it once the file is
// written.
func (s *Store) Set(path, value string) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil {
		return ErrNoDatabase
	}

	root := clone(s.root, make(map[*yaml.Node]*yaml.Node))
	node := root
	for i, key := range keys {
		last := i == len(keys)-1
		child := lookup(node, key)
		if child == nil {
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode}
			} else {
				child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}

		if last {
			if child.Kind != yaml.ScalarNode {
				return fmt.Errorf("%w: %s", ErrNotLeaf, path)
			}
			child.Tag = "!!str"
			child.Style = 0
			child.Value = value
			break
		}
		if child.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: %s", ErrNotMapping, strings.Join(keys[:i+1], "/"))
		}
		node = child
	}

	if err := save(s.file, root); err != nil {
		return err
	}
	s.root = root
	return nil
}

// Get returns the value at path
func (s *Store) Get(path string) (string, error) {
	keys, err := splitPath(path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil {
		return "", ErrNoDatabase
	}

	node := s.root
	for _, key := range keys {
		if node.Kind != yaml.MappingNode {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		node = lookup(node, key)
		if node == nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("%w: %s", ErrNotLeaf, path)
	}
	return node.Value, nil
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	keys := strings.Split(trimmed, "/")
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return keys, nil
}

// clone deep-copies a tree; seen keeps aliases pointing at their copied anchors
func clone(n *yaml.Node, seen map[*yaml.Node]*yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	if c, ok := seen[n]; ok {
		return c
	}
	c := *n
	seen[n] = &c
	if n.Content != nil {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = clone(child, seen)
		}
	}
	c.Alias = clone(n.Alias, seen)
	return &c
}

// lookup finds the value node for key in a mapping node
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			v := mapping.Content[i+1]
			if v.Kind == yaml.AliasNode && v.Alias != nil {
				return v.Alias
			}
			return v
		}
	}
	return nil
}

func load(file string) (*yaml.Node, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read parameter database: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse parameter database %s: %w", file, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: %w", file, ErrMalformed)
	}
	return root, nil
}

// save writes the tree to a temporary file beside file and renames it into place
func save(file string, root *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return fmt.Errorf("encode parameter database: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode parameter database: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".*")
	if err != nil {
		return fmt.Errorf("write parameter database: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write parameter database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write parameter database: %w", err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("write parameter database: %w", err)
	}
	return nil
}
