package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lookup errors.
var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrUnknownEntry = errors.New("unknown object entry")
)

// NetworkConfig describes a CAN network as exposed by a bridge.
type NetworkConfig struct {
	Name  string       `yaml:"name"`
	Nodes []NodeConfig `yaml:"nodes"`
}

// NodeConfig describes one node and its object entries.
type NodeConfig struct {
	Name        string        `yaml:"name"`
	ID          uint16        `yaml:"id"`
	Description string        `yaml:"description,omitempty"`
	Entries     []EntryConfig `yaml:"object_entries"`
}

// EntryConfig describes one object entry.
type EntryConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Unit        string         `yaml:"unit,omitempty"`
	Access      Access         `yaml:"access"`
	Type        TypeDescriptor `yaml:"type"`

	// Sim tunes the simulated signal. Optional.
	Sim *SimConfig `yaml:"sim,omitempty"`
}

// SimConfig tunes how the simulator generates values for an entry.
type SimConfig struct {
	// Initial is the first numeric value. Defaults to the middle of the range.
	Initial *float64 `yaml:"initial,omitempty"`

	// Step is the largest change per tick. Defaults to 1% of the range.
	Step float64 `yaml:"step,omitempty"`

	// Static disables the random walk; the entry only changes when set.
	Static bool `yaml:"static,omitempty"`
}

// LoadNetworkConfig reads and validates a YAML network description.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network config: %w", err)
	}
	return ParseNetworkConfig(data)
}

// ParseNetworkConfig parses and validates a YAML network description.
func ParseNetworkConfig(data []byte) (*NetworkConfig, error) {
	var cfg NetworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse network config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults makes entries without explicit access read-only.
func (c *NetworkConfig) applyDefaults() {
	for i := range c.Nodes {
		for j := range c.Nodes[i].Entries {
			if c.Nodes[i].Entries[j].Access == 0 {
				c.Nodes[i].Entries[j].Access = AccessReadOnly
			}
		}
	}
}

// Validate checks names are unique and types are well formed.
func (c *NetworkConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("network config: no nodes")
	}
	names := make(map[string]bool, len(c.Nodes))
	ids := make(map[uint16]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return errors.New("network config: node without name")
		}
		if names[n.Name] {
			return fmt.Errorf("network config: duplicate node %q", n.Name)
		}
		names[n.Name] = true
		if other, dup := ids[n.ID]; dup {
			return fmt.Errorf("network config: nodes %q and %q share id %d", other, n.Name, n.ID)
		}
		ids[n.ID] = n.Name

		entries := make(map[string]bool, len(n.Entries))
		for _, e := range n.Entries {
			if e.Name == "" {
				return fmt.Errorf("network config: node %q has an entry without name", n.Name)
			}
			if entries[e.Name] {
				return fmt.Errorf("network config: duplicate entry %s/%s", n.Name, e.Name)
			}
			entries[e.Name] = true
			if err := e.Type.Check(); err != nil {
				return fmt.Errorf("network config: entry %s/%s: %w", n.Name, e.Name, err)
			}
		}
	}
	return nil
}

// Node returns the named node.
func (c *NetworkConfig) Node(name string) (*NodeConfig, error) {
	for i := range c.Nodes {
		if c.Nodes[i].Name == name {
			return &c.Nodes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNode, name)
}

// Entry returns the named entry of the named node.
func (c *NetworkConfig) Entry(node, entry string) (*EntryConfig, error) {
	n, err := c.Node(node)
	if err != nil {
		return nil, err
	}
	for i := range n.Entries {
		if n.Entries[i].Name == entry {
			return &n.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownEntry, node, entry)
}

// Info returns the node list of the network.
func (c *NetworkConfig) Info() NetworkInfo {
	info := NetworkInfo{Name: c.Name, Nodes: make([]string, len(c.Nodes))}
	for i, n := range c.Nodes {
		info.Nodes[i] = n.Name
	}
	return info
}

// Info returns the node metadata.
func (n *NodeConfig) Info() NodeInfo {
	info := NodeInfo{
		Name:        n.Name,
		ID:          n.ID,
		Description: n.Description,
		Entries:     make([]string, len(n.Entries)),
	}
	for i, e := range n.Entries {
		info.Entries[i] = e.Name
	}
	return info
}

// Info returns the entry metadata for the given owning node.
func (e *EntryConfig) Info(node string) EntryInfo {
	return EntryInfo{
		Node:        node,
		Name:        e.Name,
		Type:        e.Type,
		Unit:        e.Unit,
		Description: e.Description,
		Access:      e.Access,
	}
}
