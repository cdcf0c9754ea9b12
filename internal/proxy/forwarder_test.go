package proxy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boltproxy/boltproxy/internal/store"
)

func TestHandlerPOSTNotCached(t *testing.T) {
	h, cache, _, log := newTestHandler(t)
	originAddr := startFixedOrigin(t, []byte("HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"))

	req := []byte("POST http://" + originAddr + "/a HTTP/1.1\r\nHost: " + originAddr + "\r\nContent-Length: 2\r\n\r\nhi")
	client := serveOverPipe(h, req)
	_, err := readAll(client)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, e := range log.Enumerate() {
			if e.Action == store.ActionForwarded {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, cache.Size())
}

func TestForwarderRewritesHeaders(t *testing.T) {
	var captured string
	done := make(chan struct{})

	ln := mustListen(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := conn.Read(buf)
		captured = string(buf[:n])
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		close(done)
	}()

	h, _, _, _ := newTestHandler(t)
	addr := ln.Addr().String()
	req := []byte("GET http://" + addr + "/x HTTP/1.1\r\nHost: client-supplied-host\r\nConnection: keep-alive\r\nX-Test: yes\r\n\r\n")
	client := serveOverPipe(h, req)
	readAll(client)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("origin never received request")
	}

	require.True(t, strings.HasPrefix(captured, "GET /x HTTP/1.1\r\n"))
	require.Contains(t, captured, "Host: "+addr+"\r\n")
	require.Contains(t, captured, "Connection: close\r\n")
	require.Contains(t, captured, "X-Test: yes\r\n")
	require.NotContains(t, captured, "client-supplied-host")
	require.NotContains(t, captured, "keep-alive")
}
