package frame

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type echoDispatcher struct{}

func (echoDispatcher) OnRequest(_ *Conn, command uint32, payload []byte) ([]byte, uint32) {
	if command == 99 {
		return nil, 1 // simulate an application-level error return code
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, 0
}

func (echoDispatcher) OnNotify(_ *Conn, _ uint32, _ []byte) {}

func TestConnInvokeRoundTrip(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	client := NewConn(clientNC)
	server := NewConn(serverNC)
	go server.Serve(echoDispatcher{})

	resp, err := client.Invoke(time.Now().Add(time.Second), 1, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), resp)
}

func TestConnInvokeReturnsProtocolErrorOnNonZeroCode(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	client := NewConn(clientNC)
	server := NewConn(serverNC)
	go server.Serve(echoDispatcher{})

	_, err := client.Invoke(time.Now().Add(time.Second), 99, []byte("x"))
	require.ErrorIs(t, err, ErrProtocol)
}

func TestConnConcurrentInvokesAreDemultiplexed(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	client := NewConn(clientNC)
	server := NewConn(serverNC)
	go server.Serve(echoDispatcher{})

	const n = 20
	type result struct {
		i    int
		resp []byte
		err  error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			resp, err := client.Invoke(time.Now().Add(2*time.Second), 1, []byte{byte(i)})
			results <- result{i: i, resp: resp, err: err}
		}(i)
	}
	for i := 0; i < n; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, []byte{byte(r.i)}, r.resp)
	}
}

func TestConnInvokeTimesOut(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	client := NewConn(clientNC)
	// No Serve on the server side: nothing will ever answer.

	_, err := client.Invoke(time.Now().Add(20*time.Millisecond), 1, []byte("x"))
	require.ErrorIs(t, err, ErrTimeout)
}

func TestConnCloseFailsPendingInvoke(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	client := NewConn(clientNC)
	done := make(chan error, 1)
	go func() {
		_, err := client.Invoke(time.Now().Add(5*time.Second), 1, []byte("x"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Invoke did not unblock after Close")
	}
}
