package boltproxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/boltproxy/boltproxy/internal/proxy"
)

// acceptPollInterval is the accept-loop timeout: the accept loop
// re-checks the shutdown flag at this cadence instead of blocking
// forever in Accept.
const acceptPollInterval = 1 * time.Second

// Controller is the lifecycle controller: bind/accept/shutdown with
// bounded worker drain. It owns the listener and the worker set;
// workers register on spawn and deregister on completion.
type Controller struct {
	Host string
	Port int

	Handler           *proxy.Handler
	WorkerJoinTimeout time.Duration

	// MaxConcurrentWorkers bounds concurrently running workers via a
	// semaphore ticket; zero means unbounded. This is a soft admission
	// control layered on top of "one worker per connection" (it never
	// changes that invariant).
	MaxConcurrentWorkers int

	log *zap.Logger

	mu         sync.Mutex
	ln         net.Listener
	listening  bool
	shutdown   bool
	workers    map[*worker]struct{}
	acceptDone chan struct{}
	sem        *semaphore.Weighted
}

type worker struct {
	done chan struct{}
}

// NewController builds a Controller. logger may be nil.
func NewController(host string, port int, handler *proxy.Handler, workerJoinTimeout time.Duration, maxConcurrentWorkers int, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		Host:                 host,
		Port:                 port,
		Handler:              handler,
		WorkerJoinTimeout:    workerJoinTimeout,
		MaxConcurrentWorkers: maxConcurrentWorkers,
		log:                  logger.Named("listener"),
		workers:              make(map[*worker]struct{}),
	}
	if maxConcurrentWorkers > 0 {
		c.sem = semaphore.NewWeighted(int64(maxConcurrentWorkers))
	}
	return c
}

// Start binds the listener and spawns the accept loop. It returns
// false, recording the error, if the bind fails.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		c.log.Error("bind failed", zap.String("addr", addr), zap.Error(err))
		return false
	}

	c.ln = ln
	c.shutdown = false
	c.listening = true
	c.acceptDone = make(chan struct{})
	go c.acceptLoop()
	c.log.Info("listening", zap.String("addr", addr))
	return true
}

// Stop requests shutdown, closes the listener, and joins every tracked
// worker with WorkerJoinTimeout each. Workers exceeding the window are
// leaked deliberately: clean per-request completion wins over forced
// cancellation.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	ln := c.ln
	acceptDone := c.acceptDone
	workers := make([]*worker, 0, len(c.workers))
	for w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if acceptDone != nil {
		<-acceptDone
	}

	for _, w := range workers {
		select {
		case <-w.done:
		case <-time.After(c.WorkerJoinTimeout):
			c.log.Warn("worker exceeded join window, leaking", zap.Duration("timeout", c.WorkerJoinTimeout))
		}
	}

	c.mu.Lock()
	c.listening = false
	c.pruneLocked()
	c.mu.Unlock()
}

// ActiveWorkers counts workers currently alive.
func (c *Controller) ActiveWorkers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return len(c.workers)
}

// Listening reports whether the controller currently accepts connections.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Addr returns the bound listener address, or nil if not listening.
// Callers use this to discover the actual port when Port was 0.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

func (c *Controller) pruneLocked() {
	for w := range c.workers {
		select {
		case <-w.done:
			delete(c.workers, w)
		default:
		}
	}
}

func (c *Controller) acceptLoop() {
	defer close(c.acceptDone)
	for {
		c.mu.Lock()
		shutdown := c.shutdown
		ln := c.ln
		c.mu.Unlock()
		if shutdown {
			return
		}

		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Listener closed (or any other terminal accept error):
			// exit the loop.
			return
		}

		c.spawnWorker(conn)
	}
}

func (c *Controller) spawnWorker(conn net.Conn) {
	w := &worker{done: make(chan struct{})}
	c.mu.Lock()
	c.workers[w] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer close(w.done)
		ctx := context.Background()
		if c.sem != nil {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				conn.Close()
				return
			}
			defer c.sem.Release(1)
		}
		c.Handler.Serve(ctx, conn)
	}()
}
