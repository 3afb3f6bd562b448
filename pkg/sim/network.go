package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// enumChangeRate is the chance per tick that an enum entry switches variant.
const enumChangeRate = 0.05

// UpdateFunc is called after an entry took a new value.
type UpdateFunc func(node, entry string, sample model.Sample)

// Network simulates the object entries of a CAN network.
//
// Entries start without a value. They get one on the first tick, the
// first read, or the first write.
type Network struct {
	config *model.NetworkConfig

	mu       sync.Mutex
	rng      *rand.Rand
	values   map[string]model.Sample
	onUpdate UpdateFunc
}

// Compile-time interface check.
var _ bridge.Backend = (*Network)(nil)

// NewNetwork creates a simulated network. The same seed yields the same
// sequence of values.
func NewNetwork(config *model.NetworkConfig, seed uint64) *Network {
	return &Network{
		config: config,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		values: make(map[string]model.Sample),
	}
}

// OnUpdate sets the function called after every value change.
func (n *Network) OnUpdate(fn UpdateFunc) {
	n.mu.Lock()
	n.onUpdate = fn
	n.mu.Unlock()
}

// NetworkInfo returns the node list.
func (n *Network) NetworkInfo() model.NetworkInfo {
	return n.config.Info()
}

// NodeInfo returns the metadata of one node.
func (n *Network) NodeInfo(node string) (model.NodeInfo, error) {
	nc, err := n.config.Node(node)
	if err != nil {
		return model.NodeInfo{}, err
	}
	return nc.Info(), nil
}

// EntryInfo returns the metadata of one entry.
func (n *Network) EntryInfo(node, entry string) (model.EntryInfo, error) {
	ec, err := n.config.Entry(node, entry)
	if err != nil {
		return model.EntryInfo{}, err
	}
	return ec.Info(node), nil
}

// Latest returns the current value of an entry, if it has one.
func (n *Network) Latest(node, entry string) (model.Sample, bool, error) {
	if _, err := n.config.Entry(node, entry); err != nil {
		return model.Sample{}, false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.values[node+"/"+entry]
	return s, ok, nil
}

// Read produces a fresh reading of the entry and reports it to the
// update function, as a bus read would be seen by every listener.
func (n *Network) Read(ctx context.Context, node, entry string) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}
	ec, err := n.config.Entry(node, entry)
	if err != nil {
		return model.Sample{}, err
	}
	if !ec.Access.CanRead() {
		return model.Sample{}, fmt.Errorf("%w: %s/%s", bridge.ErrWriteOnly, node, entry)
	}

	n.mu.Lock()
	s := n.advanceLocked(node, ec)
	fn := n.onUpdate
	n.mu.Unlock()

	if fn != nil {
		fn(node, entry, s)
	}
	return s, nil
}

// Write validates and stores a new value for the entry.
func (n *Network) Write(ctx context.Context, node, entry string, v model.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ec, err := n.config.Entry(node, entry)
	if err != nil {
		return err
	}
	if !ec.Access.CanWrite() {
		return fmt.Errorf("%w: %s/%s", bridge.ErrReadOnly, node, entry)
	}
	if err := ec.Type.Validate(v); err != nil {
		return err
	}

	s := model.NewSample(v)
	n.mu.Lock()
	n.values[node+"/"+entry] = s
	fn := n.onUpdate
	n.mu.Unlock()

	if fn != nil {
		fn(node, entry, s)
	}
	return nil
}

type update struct {
	node   string
	entry  string
	sample model.Sample
}

// Tick advances every readable, non-static entry by one step and
// returns the number of entries that changed.
func (n *Network) Tick() int {
	n.mu.Lock()
	var updates []update
	for i := range n.config.Nodes {
		node := &n.config.Nodes[i]
		for j := range node.Entries {
			ec := &node.Entries[j]
			if !ec.Access.CanRead() {
				continue
			}
			key := node.Name + "/" + ec.Name
			if _, ok := n.values[key]; ok && ec.Sim != nil && ec.Sim.Static {
				continue
			}
			updates = append(updates, update{
				node:   node.Name,
				entry:  ec.Name,
				sample: n.advanceLocked(node.Name, ec),
			})
		}
	}
	fn := n.onUpdate
	n.mu.Unlock()

	if fn != nil {
		for _, u := range updates {
			fn(u.node, u.entry, u.sample)
		}
	}
	return len(updates)
}

// advanceLocked moves the entry one step along its walk, starting it
// if it has no value yet.
func (n *Network) advanceLocked(node string, ec *model.EntryConfig) model.Sample {
	key := node + "/" + ec.Name
	cur, ok := n.values[key]

	var v model.Value
	switch {
	case !ok:
		v = initial(ec.Type, ec.Sim)
	case ec.Sim != nil && ec.Sim.Static:
		v = cur.Value
	default:
		v = n.step(ec.Type, ec.Sim, cur.Value)
	}

	s := model.NewSample(v)
	n.values[key] = s
	return s
}

func initial(t model.TypeDescriptor, sc *model.SimConfig) model.Value {
	switch t.Kind {
	case model.KindUnsigned, model.KindSigned, model.KindReal:
		var f float64
		if lo, hi, ok := t.Range(); ok {
			f = (lo + hi) / 2
		}
		if sc != nil && sc.Initial != nil {
			f = *sc.Initial
		}
		return fromFloat(t, f)
	case model.KindEnum:
		return model.EnumValue(t.Variants[0])
	case model.KindStruct:
		fields := make([]model.Field, len(t.Attributes))
		for i, a := range t.Attributes {
			fields[i] = model.NewField(a.Name, initial(a.Type, nil))
		}
		return model.StructValue(fields...)
	default:
		return model.Value{}
	}
}

func (n *Network) step(t model.TypeDescriptor, sc *model.SimConfig, cur model.Value) model.Value {
	switch t.Kind {
	case model.KindUnsigned, model.KindSigned, model.KindReal:
		f, _ := cur.Float64()
		size := 1.0
		if lo, hi, ok := t.Range(); ok && hi > lo {
			size = (hi - lo) / 100
		}
		if sc != nil && sc.Step > 0 {
			size = sc.Step
		}
		return fromFloat(t, f+(n.rng.Float64()*2-1)*size)
	case model.KindEnum:
		if n.rng.Float64() < enumChangeRate {
			return model.EnumValue(t.Variants[n.rng.IntN(len(t.Variants))])
		}
		return cur
	case model.KindStruct:
		fields := make([]model.Field, len(t.Attributes))
		for i, a := range t.Attributes {
			fv, ok := cur.Field(a.Name)
			if !ok {
				fv = initial(a.Type, nil)
			}
			fields[i] = model.NewField(a.Name, n.step(a.Type, nil, fv))
		}
		return model.StructValue(fields...)
	default:
		return cur
	}
}

// fromFloat converts f to a value of kind t, clamped to the type's range.
func fromFloat(t model.TypeDescriptor, f float64) model.Value {
	if lo, hi, ok := t.Range(); ok {
		f = math.Max(lo, math.Min(hi, f))
	}
	if t.Min != nil && f < *t.Min {
		f = *t.Min
	}
	if t.Max != nil && f > *t.Max {
		f = *t.Max
	}
	switch t.Kind {
	case model.KindUnsigned:
		f = math.Round(f)
		if f >= math.MaxUint64 {
			return model.UnsignedValue(math.MaxUint64)
		}
		return model.UnsignedValue(uint64(math.Max(f, 0)))
	case model.KindSigned:
		f = math.Round(f)
		if f >= math.MaxInt64 {
			return model.SignedValue(math.MaxInt64)
		}
		if f <= math.MinInt64 {
			return model.SignedValue(math.MinInt64)
		}
		return model.SignedValue(int64(f))
	default:
		return model.RealValue(f)
	}
}
