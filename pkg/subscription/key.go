package subscription

import (
	"errors"
	"fmt"
	"strings"
)

// Key errors.
var (
	ErrInvalidKey = errors.New("invalid subscription key")
)

// Key identifies one object entry on one node.
type Key struct {
	Node  string
	Entry string
}

// NewKey returns the key for node/entry.
func NewKey(node, entry string) Key {
	return Key{Node: node, Entry: entry}
}

// ParseKey parses "node/entry".
func ParseKey(s string) (Key, error) {
	node, entry, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q is not node/entry", ErrInvalidKey, s)
	}
	k := Key{Node: node, Entry: entry}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks that both names are present and well formed.
func (k Key) Validate() error {
	if err := validName(k.Node); err != nil {
		return fmt.Errorf("%w: node %s", ErrInvalidKey, err)
	}
	if strings.Contains(k.Node, "/") {
		return fmt.Errorf("%w: node %q contains '/'", ErrInvalidKey, k.Node)
	}
	if err := validName(k.Entry); err != nil {
		return fmt.Errorf("%w: entry %s", ErrInvalidKey, err)
	}
	return nil
}

func validName(s string) error {
	switch {
	case s == "":
		return errors.New("name is empty")
	case strings.TrimSpace(s) != s:
		return fmt.Errorf("name %q has surrounding whitespace", s)
	}
	return nil
}

// String returns "node/entry".
func (k Key) String() string {
	return k.Node + "/" + k.Entry
}
