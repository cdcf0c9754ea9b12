package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boltproxy/boltproxy/internal/httpparse"
	"github.com/boltproxy/boltproxy/internal/store"
)

// tunnelChunkSize is the relay read chunk size.
const tunnelChunkSize = 4096

// Tunnel executes the HTTPS path: policy check, upstream dial, 200
// acknowledgement, bidirectional relay. The tunnel never parses,
// inspects, caches, or filters bytes beyond the initial host check;
// TLS passes through opaquely.
type Tunnel struct {
	Denylist *store.Denylist
	Log      *store.Log
	Dialer   *Dialer

	IdleTimeout time.Duration

	logger *zap.Logger
}

// NewTunnel wires a Tunnel to the denylist and log stores.
func NewTunnel(denylist *store.Denylist, log *store.Log, dialer *Dialer, idleTimeout time.Duration, logger *zap.Logger) *Tunnel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tunnel{
		Denylist:    denylist,
		Log:         log,
		Dialer:      dialer,
		IdleTimeout: idleTimeout,
		logger:      logger.Named("tunnel"),
	}
}

// Handle runs the full CONNECT path for req over client.
func (t *Tunnel) Handle(ctx context.Context, client net.Conn, clientAddr string, req httpparse.Request) {
	// 1. Split target on first ':'.
	host, port, ok := splitHostPort(req.Target)
	if !ok {
		client.Write(BadConnectResponse())
		t.Log.Append(clientAddr, "", store.ActionErrorBadConnect)
		return
	}

	url := fmt.Sprintf("https://%s/", host)

	// 2. Denylist check.
	if t.Denylist.Contains(strings.ToLower(host)) {
		client.Write(ForbiddenResponse())
		t.Log.Append(clientAddr, url, store.ActionBlockedConnect)
		return
	}

	// 3. Dial.
	upstream, err := t.Dialer.Dial(ctx, host, port)
	if err != nil {
		t.logger.Debug("connect dial failed", zap.String("host", host), zap.Error(err))
		client.Write(BadGatewayResponse())
		t.Log.Append(clientAddr, url, store.ActionErrorConnectUpstream)
		return
	}
	defer upstream.Close()

	// 4. Acknowledge.
	if _, err := io.WriteString(client, ConnectionEstablished); err != nil {
		return
	}

	// 5. Log connect immediately so operators see live tunnels.
	t.Log.Append(clientAddr, url, store.ActionConnect)

	// 6. Relay until idle or EOF.
	t.relay(client, upstream)

	// 7. Terminal log.
	t.Log.Append(clientAddr, url, store.ActionTunnel)
}

// splitHostPort splits a CONNECT target on the first ':', parsing the
// right side as a decimal port.
func splitHostPort(target string) (host string, port int, ok bool) {
	idx := strings.IndexByte(target, ':')
	if idx < 0 {
		return "", 0, false
	}
	host = target[:idx]
	p, err := strconv.Atoi(target[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return host, p, true
}

// relay implements the bidirectional byte copy. Each direction runs on
// its own goroutine performing blocking reads bounded by IdleTimeout
// (deadline-bounded connections standing in for readiness
// multiplexing, since net.Conn exposes no epoll-style wait). Either
// goroutine returning (EOF, read/write error, or a timed-out deadline)
// ends the tunnel and closes both sides.
func (t *Tunnel) relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		buf := make([]byte, tunnelChunkSize)
		for {
			src.SetReadDeadline(time.Now().Add(t.IdleTimeout))
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
	a.Close()
	b.Close()
	<-done
}
