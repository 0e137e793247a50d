package crux

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoopbackPair spins up a listening Service and a dialing Service on
// ephemeral loopback ports, accepts once, and returns both established
// connections.
func newLoopbackPair(t *testing.T, opts ...Option) (server, client *Connection, acceptor *Acceptor) {
	t.Helper()
	svc := NewService(opts...)
	acc, err := NewAcceptor(svc, "127.0.0.1:0")
	require.NoError(t, err)

	serverCh := make(chan *Connection, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := acc.AcceptNew()
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- conn
	}()

	clientSvc := NewService(opts...)
	client, err = clientSvc.Dial("127.0.0.1:0", acc.LocalAddr().String())
	require.NoError(t, err)

	select {
	case server = <-serverCh:
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
	return server, client, acc
}

func TestScenarioAConnectAndSingleSend(t *testing.T) {
	server, client, acc := newLoopbackPair(t)
	defer acc.Close()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.Send([]byte("TEST_MESSAGE")))
	payload, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "TEST_MESSAGE", string(payload))
}

func TestScenarioBDoubleSendDoubleReceive(t *testing.T) {
	server, client, acc := newLoopbackPair(t)
	defer acc.Close()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.Send([]byte("TEST_MESSAGE1")))
	require.NoError(t, client.Send([]byte("TEST_MESSAGE2")))

	first, err := server.Receive()
	require.NoError(t, err)
	second, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "TEST_MESSAGE1", string(first))
	assert.Equal(t, "TEST_MESSAGE2", string(second))
}

func TestScenarioCBidirectionalExchange(t *testing.T) {
	server, client, acc := newLoopbackPair(t)
	defer acc.Close()
	defer client.Close()
	defer server.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		payload, err := server.Receive()
		require.NoError(t, err)
		assert.Equal(t, "TEST_MESSAGE1", string(payload))
		require.NoError(t, server.Send([]byte("TEST_MESSAGE2")))
	}()

	require.NoError(t, client.Send([]byte("TEST_MESSAGE1")))
	reply, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, "TEST_MESSAGE2", string(reply))
	wg.Wait()
}

func TestScenarioDAcceptThenClose(t *testing.T) {
	svc := NewService()
	acc, err := NewAcceptor(svc, "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := acc.AcceptNew()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	acc.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrOperationAborted)
	case <-time.After(time.Second):
		t.Fatal("accept callback never fired")
	}
}

func TestScenarioEDestroyMidFlight(t *testing.T) {
	server, client, acc := newLoopbackPair(t)
	defer acc.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := server.Receive()
		assert.Error(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := client.Receive()
		assert.Error(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	server.Close()
	client.Close()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("receive callbacks never fired after close")
	}
}

func TestScenarioFKeepaliveTimeout(t *testing.T) {
	server, client, acc := newLoopbackPair(t,
		WithKeepaliveTimeout(60*time.Millisecond),
		WithRetransmitPeriod(500*time.Millisecond))
	defer acc.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := server.Receive()
		assert.ErrorIs(t, err, ErrKeepaliveTimeout)
	}()
	go func() {
		defer wg.Done()
		_, err := client.Receive()
		assert.ErrorIs(t, err, ErrKeepaliveTimeout)
	}()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive timeout never fired on one or both sides")
	}
}
