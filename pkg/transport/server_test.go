package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

func startEchoServer(t *testing.T) (*Server, chan *ServerConn) {
	t.Helper()
	disconnected := make(chan *ServerConn, 4)

	s := NewServer(ServerConfig{
		Address: "127.0.0.1:0",
		OnMessage: func(c *ServerConn, msg []byte) {
			_ = c.Send(msg)
		},
		OnDisconnect: func(c *ServerConn) {
			disconnected <- c
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, disconnected
}

func TestServerEcho(t *testing.T) {
	s, _ := startEchoServer(t)

	conn, err := Dial(context.Background(), s.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("hello")))
	got, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	assert.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, conn.ConnID())
}

func TestServerAnswersPing(t *testing.T) {
	s, _ := startEchoServer(t)

	conn, err := Dial(context.Background(), s.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendPing(7))
	data, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)

	msg, err := wire.DecodeControlMessage(data)
	require.NoError(t, err)
	assert.Equal(t, wire.ControlPong, msg.ControlType)
	assert.Equal(t, uint32(7), msg.Sequence)
}

func TestServerCloseHandshake(t *testing.T) {
	s, disconnected := startEchoServer(t)

	conn, err := Dial(context.Background(), s.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "second Close must be harmless")

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the close")
	}
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)

	_, err = conn.Receive(0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnectionClosed)
}

func TestServerStopClosesClients(t *testing.T) {
	s, _ := startEchoServer(t)

	conn, err := Dial(context.Background(), s.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	_, err = conn.Receive(2 * time.Second)
	assert.Error(t, err)
	assert.NoError(t, s.Stop())
}

func TestDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1:1", ClientConfig{})
	assert.Error(t, err)
}

func TestKeepAliveAnswered(t *testing.T) {
	var ka *KeepAlive
	var mu sync.Mutex
	timedOut := false

	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(seq uint32) error {
		go ka.PongReceived(seq)
		return nil
	}, func() {
		mu.Lock()
		timedOut = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ka.Start(ctx)
	defer ka.Stop()

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, timedOut)
	assert.True(t, ka.IsRunning())
	assert.Equal(t, 0, ka.MissedPongs())
}

func TestKeepAliveTimeout(t *testing.T) {
	done := make(chan struct{})
	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   15 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(uint32) error { return nil }, func() { close(done) })

	ka.Start(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keep-alive never timed out")
	}
	assert.False(t, ka.IsRunning())
}

func TestKeepAliveDetectionDelay(t *testing.T) {
	assert.Equal(t, 17*time.Second, DefaultKeepAliveConfig().DetectionDelay())
}
