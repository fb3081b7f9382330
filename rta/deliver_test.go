package rta

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graft-project/graftd/internal/clock"
)

func TestDeliverReturnsFalseForUnknownRecipient(t *testing.T) {
	r := New(clock.NewFake(time.Unix(0, 0)), nil)
	require.False(t, r.Deliver("ghost", []byte("x")))
}

func TestDeliverForwardsToRegisteredSupernode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	r := New(clk, nil)
	require.NoError(t, r.RegisterSupernode("sn-1", "http://"+srv.Listener.Addr().String(), "/rta", 60000))
	require.NoError(t, r.AddRoute("recipient-1", "sn-1"))

	require.True(t, r.Deliver("recipient-1", []byte("payload")))
}

func TestDeliverWithEmptyRecipientFansOutToAllSupernodes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	r := New(clk, nil)
	require.NoError(t, r.RegisterSupernode("sn-1", "http://"+srv.Listener.Addr().String(), "/rta", 60000))
	require.NoError(t, r.RegisterSupernode("sn-2", "http://"+srv.Listener.Addr().String(), "/rta", 60000))
	// deliberately no AddRoute calls: fan-out must not depend on the route table.

	require.True(t, r.Deliver("", []byte("payload")))
	require.Equal(t, int32(2), hits)
}

func TestDeliverWithEmptyRecipientReturnsFalseWhenNoSupernodesRegistered(t *testing.T) {
	r := New(clock.NewFake(time.Unix(1_700_000_000, 0)), nil)
	require.False(t, r.Deliver("", []byte("payload")))
}
