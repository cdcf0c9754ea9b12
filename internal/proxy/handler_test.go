package proxy

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boltproxy/boltproxy/internal/store"
)

// newTestHandler builds a Handler wired to fresh, in-process-only stores.
func newTestHandler(t *testing.T) (*Handler, *store.Cache, *store.Denylist, *store.Log) {
	t.Helper()
	cache := store.NewCache(nil, nil)
	denylist := store.NewDenylist()
	log := store.NewLog(nil, nil)
	dialer := NewDialer(2*time.Second, 0)

	forwarder := NewForwarder(cache, denylist, log, dialer, 2*time.Second, nil)
	tunnel := NewTunnel(denylist, log, dialer, 2*time.Second, nil)
	handler := NewHandler(forwarder, tunnel, 2*time.Second)
	return handler, cache, denylist, log
}

// startFixedOrigin starts a tiny HTTP/1.0-ish origin that always replies
// with the given fixed response bytes to every connection.
func startFixedOrigin(t *testing.T, response []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				conn.Read(buf) // drain the request
				conn.Write(response)
			}()
		}
	}()
	return ln.Addr().String()
}

// serveOverPipe runs h.Serve on one side of an in-memory pipe and
// returns the other side for the test to drive as the client.
func serveOverPipe(h *Handler, request []byte) net.Conn {
	clientSide, serverSide := net.Pipe()
	go func() {
		h.Serve(context.Background(), serverSide)
	}()
	go func() {
		clientSide.Write(request)
	}()
	return clientSide
}

func TestHandlerGETFetchesAndCaches(t *testing.T) {
	h, cache, _, log := newTestHandler(t)
	originAddr := startFixedOrigin(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))

	req := []byte("GET http://" + originAddr + "/a HTTP/1.1\r\nHost: " + originAddr + "\r\n\r\n")
	client := serveOverPipe(h, req)

	resp, err := readAll(client)
	require.NoError(t, err)
	require.Contains(t, string(resp), "200 OK")
	require.Contains(t, string(resp), "hi")

	require.Eventually(t, func() bool { return cache.Size() == 1 }, time.Second, 10*time.Millisecond)
	events := log.Enumerate()
	require.Len(t, events, 2)
	require.Equal(t, store.ActionRequestHTTP, events[0].Action)
	require.Equal(t, store.ActionFetched, events[1].Action)
}

func TestHandlerSecondGETServesFromCache(t *testing.T) {
	h, _, _, log := newTestHandler(t)
	originAddr := startFixedOrigin(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	req := []byte("GET http://" + originAddr + "/a HTTP/1.1\r\nHost: " + originAddr + "\r\n\r\n")

	first := serveOverPipe(h, req)
	firstResp, err := readAll(first)
	require.NoError(t, err)

	second := serveOverPipe(h, req)
	secondResp, err := readAll(second)
	require.NoError(t, err)

	require.Equal(t, firstResp, secondResp)

	require.Eventually(t, func() bool {
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionCached {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerBlockedHost(t *testing.T) {
	h, _, denylist, log := newTestHandler(t)
	denylist.Add("blocked.test")

	req := []byte("GET http://blocked.test/x HTTP/1.1\r\nHost: blocked.test\r\n\r\n")
	client := serveOverPipe(h, req)

	resp, err := readAll(client)
	require.NoError(t, err)
	require.Contains(t, string(resp), "403 Forbidden")
	require.Contains(t, string(resp), "<h1>Access Denied</h1>")

	require.Eventually(t, func() bool {
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionBlocked {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerUpstreamDialFailure(t *testing.T) {
	h, _, _, log := newTestHandler(t)
	req := []byte("GET http://127.0.0.1:1/x HTTP/1.1\r\nHost: 127.0.0.1:1\r\n\r\n")
	client := serveOverPipe(h, req)

	resp, err := readAll(client)
	require.NoError(t, err)
	require.Contains(t, string(resp), "502 Bad Gateway")

	require.Eventually(t, func() bool {
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionErrorUpstreamConnect {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerConnectTunnel(t *testing.T) {
	h, _, _, log := newTestHandler(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n]) // echo back
	}()

	req := []byte("CONNECT " + ln.Addr().String() + " HTTP/1.1\r\n\r\n")
	client := serveOverPipe(h, req)

	ack := make([]byte, len(ConnectionEstablished))
	_, err = readFull(client, ack)
	require.NoError(t, err)
	require.Equal(t, ConnectionEstablished, string(ack))

	client.Write([]byte("ping1234"))
	echoed := make([]byte, 8)
	_, err = readFull(client, echoed)
	require.NoError(t, err)
	require.Equal(t, "ping1234", string(echoed))
	client.Close()

	require.Eventually(t, func() bool {
		var sawConnect, sawTunnel bool
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionConnect {
				sawConnect = true
			}
			if e.Action == store.ActionTunnel {
				sawTunnel = true
			}
		}
		return sawConnect && sawTunnel
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerBadConnect(t *testing.T) {
	h, _, _, log := newTestHandler(t)
	req := []byte("CONNECT host:notanumber HTTP/1.1\r\n\r\n")
	client := serveOverPipe(h, req)

	resp, err := readAll(client)
	require.NoError(t, err)
	require.Contains(t, string(resp), "400 Bad Request")

	require.Eventually(t, func() bool {
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionErrorBadConnect {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func readAll(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return buf, nil
		}
	}
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
