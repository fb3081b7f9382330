package frame

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelayToAllExceptSkipsOriginAndNil(t *testing.T) {
	clientA, serverA := net.Pipe()
	clientB, serverB := net.Pipe()
	defer clientA.Close()
	defer serverA.Close()
	defer clientB.Close()
	defer serverB.Close()

	a := NewConn(serverA)
	b := NewConn(serverB)
	go NewConn(clientA).Serve(echoDispatcher{})
	go NewConn(clientB).Serve(echoDispatcher{})

	sent := RelayToAllExcept(1, []byte("hi"), []*Conn{a, b, nil}, a)
	require.Equal(t, 1, sent, "origin and nil entries must be skipped")
}

func TestRelayToListSkipsNilAndReturnsSentCount(t *testing.T) {
	clientA, serverA := net.Pipe()
	clientB, serverB := net.Pipe()
	defer clientA.Close()
	defer serverA.Close()
	defer clientB.Close()
	defer serverB.Close()

	a := NewConn(serverA)
	b := NewConn(serverB)
	go NewConn(clientA).Serve(echoDispatcher{})
	go NewConn(clientB).Serve(echoDispatcher{})

	sent := RelayToList(1, []byte("hi"), []*Conn{a, nil, b})
	require.Equal(t, 2, sent, "both resolvable connections must receive the notify")
}
