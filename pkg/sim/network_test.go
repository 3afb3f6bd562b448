package sim

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

const testNetwork = `
name: pod24
nodes:
  - name: power_board24
    id: 1
    object_entries:
      - name: cpu_temperature
        unit: "°C"
        type: {kind: real, min: -40, max: 150}
        sim: {initial: 35, step: 0.5}
      - name: voltage
        unit: mV
        type: {kind: uint, bits: 16}
      - name: serial
        type: {kind: uint, bits: 32}
        sim: {initial: 4711, static: true}
  - name: levitation_board1
    id: 2
    object_entries:
      - name: state
        access: rw
        type:
          kind: enum
          variants: [IDLE, READY, LEVITATING]
        sim: {static: true}
      - name: pi_parameters
        access: rw
        type:
          kind: struct
          attributes:
            - {name: p, type: {kind: real, min: 0, max: 10}}
            - {name: i, type: {kind: int, bits: 8}}
`

func loadTestNetwork(t *testing.T) *model.NetworkConfig {
	t.Helper()
	cfg, err := model.ParseNetworkConfig([]byte(testNetwork))
	require.NoError(t, err)
	return cfg
}

func TestNetworkStartsEmpty(t *testing.T) {
	n := NewNetwork(loadTestNetwork(t), 1)

	_, ok, err := n.Latest("power_board24", "voltage")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = n.Latest("power_board24", "current")
	assert.ErrorIs(t, err, model.ErrUnknownEntry)
}

func TestNetworkTickStaysInRange(t *testing.T) {
	cfg := loadTestNetwork(t)
	n := NewNetwork(cfg, 7)

	assert.Equal(t, 5, n.Tick())
	for i := 0; i < 500; i++ {
		n.Tick()
	}

	for _, node := range cfg.Nodes {
		for _, e := range node.Entries {
			s, ok, err := n.Latest(node.Name, e.Name)
			require.NoError(t, err)
			require.True(t, ok, "%s/%s has no value", node.Name, e.Name)
			assert.NoError(t, e.Type.Validate(s.Value), "%s/%s = %s", node.Name, e.Name, s.Value)
		}
	}
}

func TestNetworkInitialValues(t *testing.T) {
	n := NewNetwork(loadTestNetwork(t), 1)
	n.Tick()

	temp, _, _ := n.Latest("power_board24", "cpu_temperature")
	f, ok := temp.Value.Float64()
	require.True(t, ok)
	assert.InDelta(t, 35, f, 0.001)

	volt, _, _ := n.Latest("power_board24", "voltage")
	assert.Equal(t, uint64(32768), volt.Value.Unsigned)

	state, _, _ := n.Latest("levitation_board1", "state")
	assert.Equal(t, "IDLE", state.Value.Enum)

	pi, _, _ := n.Latest("levitation_board1", "pi_parameters")
	p, ok := pi.Value.Field("p")
	require.True(t, ok)
	assert.InDelta(t, 5, p.Real, 0.001)
}

func TestNetworkStaticEntries(t *testing.T) {
	n := NewNetwork(loadTestNetwork(t), 3)
	n.Tick()
	first, _, _ := n.Latest("power_board24", "serial")

	for i := 0; i < 50; i++ {
		n.Tick()
	}
	last, _, _ := n.Latest("power_board24", "serial")
	assert.True(t, first.Value.Equal(last.Value))
	assert.Equal(t, uint64(4711), last.Value.Unsigned)
}

func TestNetworkSameSeedSameWalk(t *testing.T) {
	a := NewNetwork(loadTestNetwork(t), 42)
	b := NewNetwork(loadTestNetwork(t), 42)
	for i := 0; i < 20; i++ {
		a.Tick()
		b.Tick()
	}

	sa, _, _ := a.Latest("power_board24", "cpu_temperature")
	sb, _, _ := b.Latest("power_board24", "cpu_temperature")
	assert.True(t, sa.Value.Equal(sb.Value), "%s != %s", sa.Value, sb.Value)
}

func TestNetworkWrite(t *testing.T) {
	n := NewNetwork(loadTestNetwork(t), 1)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	n.OnUpdate(func(node, entry string, s model.Sample) {
		mu.Lock()
		seen = append(seen, node+"/"+entry+"="+s.Value.String())
		mu.Unlock()
	})

	require.NoError(t, n.Write(ctx, "levitation_board1", "state", model.EnumValue("READY")))
	s, ok, err := n.Latest("levitation_board1", "state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "READY", s.Value.Enum)

	err = n.Write(ctx, "levitation_board1", "state", model.EnumValue("FLYING"))
	assert.ErrorIs(t, err, model.ErrUnknownVariant)

	err = n.Write(ctx, "levitation_board1", "state", model.RealValue(1))
	assert.ErrorIs(t, err, model.ErrKindMismatch)

	err = n.Write(ctx, "power_board24", "voltage", model.UnsignedValue(1))
	assert.ErrorIs(t, err, bridge.ErrReadOnly)

	err = n.Write(ctx, "inverter", "rpm", model.UnsignedValue(1))
	assert.ErrorIs(t, err, model.ErrUnknownNode)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 1)
}

func TestNetworkReadReportsUpdate(t *testing.T) {
	n := NewNetwork(loadTestNetwork(t), 1)

	var got []model.Sample
	n.OnUpdate(func(node, entry string, s model.Sample) {
		got = append(got, s)
	})

	s, err := n.Read(context.Background(), "power_board24", "voltage")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Value.Equal(s.Value))

	latest, ok, _ := n.Latest("power_board24", "voltage")
	require.True(t, ok)
	assert.True(t, latest.Value.Equal(s.Value))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.Read(ctx, "power_board24", "voltage")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromFloatClamps(t *testing.T) {
	lo, hi := -1.0, 1.0
	tests := []struct {
		name string
		typ  model.TypeDescriptor
		in   float64
		want model.Value
	}{
		{"uint rounds", model.TypeDescriptor{Kind: model.KindUnsigned, BitSize: 8}, 3.6, model.UnsignedValue(4)},
		{"uint floor", model.TypeDescriptor{Kind: model.KindUnsigned, BitSize: 8}, -3, model.UnsignedValue(0)},
		{"uint ceiling", model.TypeDescriptor{Kind: model.KindUnsigned, BitSize: 8}, 300, model.UnsignedValue(255)},
		{"int floor", model.TypeDescriptor{Kind: model.KindSigned, BitSize: 8}, -500, model.SignedValue(-128)},
		{"int64 ceiling", model.TypeDescriptor{Kind: model.KindSigned, BitSize: 64}, 1e30, model.SignedValue(9223372036854775807)},
		{"real bounded", model.TypeDescriptor{Kind: model.KindReal, Min: &lo, Max: &hi}, 2, model.RealValue(1)},
		{"real min only", model.TypeDescriptor{Kind: model.KindReal, Min: &lo}, -7, model.RealValue(-1)},
		{"real unbounded", model.TypeDescriptor{Kind: model.KindReal}, 1e9, model.RealValue(1e9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fromFloat(tt.typ, tt.in)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}
