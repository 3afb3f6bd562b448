// Package model defines the data a bridge exposes about a CAN network.
//
// # Hierarchy
//
// A network is a flat list of nodes. Each node owns a set of named object
// entries:
//
//	Network (pod24)
//	├── power_board24
//	│   ├── cpu_temperature   real  °C
//	│   └── voltage           uint16 mV
//	└── levitation_board1
//	    ├── air_gap           real  mm
//	    └── state             enum
//
// An object entry is addressed by the pair (node name, entry name).
//
// # Values
//
// Values are a tagged union of five kinds: unsigned, signed, real, enum and
// struct. A struct value carries named attributes, each of which is itself a
// Value. A Sample pairs a Value with the time the bridge observed it.
//
// # Type Descriptors
//
// Every entry has a TypeDescriptor describing the kind of value it holds and
// its bounds (bit width for integers, min/max for reals, variants for enums,
// attribute types for structs). TypeDescriptor.Range derives the display
// range for gauges.
//
// # Network Configuration
//
// The simulator and tests describe a network in YAML, loaded with
// LoadNetworkConfig. See configs/network.yaml for an example.
package model
