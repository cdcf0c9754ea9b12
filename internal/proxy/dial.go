package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Dialer opens upstream TCP connections, optionally throttled by a
// token-bucket limiter so a burst of client connections cannot turn
// this proxy into an unwitting participant in an outbound flood.
type Dialer struct {
	Timeout time.Duration
	limiter *rate.Limiter
}

// NewDialer builds a Dialer. ratePerSecond <= 0 disables limiting.
func NewDialer(timeout time.Duration, ratePerSecond float64) *Dialer {
	d := &Dialer{Timeout: timeout}
	if ratePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), max(1, int(ratePerSecond)))
	}
	return d
}

// Dial connects to host:port, waiting on the rate limiter (if any)
// before attempting the connection, then bounding the connection
// attempt itself by Timeout.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for dial rate limiter: %w", err)
		}
	}
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}
