package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// ErrNotRunning is returned when a ZmqServer operation needs a started socket.
var ErrNotRunning = errors.New("server is not running")

// Receive failures are retried with an exponential backoff between these
// bounds.
const (
	minRecvBackoff = 10 * time.Millisecond
	maxRecvBackoff = time.Second
)

// ZmqServer answers decode requests on a ZeroMQ REP socket. Requests are
// handled one at a time in arrival order. A stopped server can be started
// again.
type ZmqServer struct {
	address string
	handler *Handler

	ctx    context.Context
	cancel context.CancelFunc

	rep     zmq4.Socket
	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewZmqServer creates a server bound to address, e.g. "tcp://127.0.0.1:5555".
func NewZmqServer(address string, handler *Handler) *ZmqServer {
	return &ZmqServer{
		address: address,
		handler: handler,
	}
}

// Start binds the socket and starts serving in the background.
func (z *ZmqServer) Start() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.running {
		return errors.New("server is already running")
	}

	z.ctx, z.cancel = context.WithCancel(context.Background())
	z.rep = zmq4.NewRep(z.ctx)
	if err := z.rep.Listen(z.address); err != nil {
		_ = z.rep.Close()
		z.cancel()
		return fmt.Errorf("failed to bind rep socket: %w", err)
	}
	z.running = true

	Logger().Info("zmq decode server listening", zap.String("addr", z.address))

	z.wg.Add(1)
	go z.serveLoop(z.ctx, z.rep)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (z *ZmqServer) Addr() net.Addr {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.running {
		return nil
	}
	return z.rep.Addr()
}

// Stop closes the socket and waits for the serve loop to return.
func (z *ZmqServer) Stop() {
	z.mu.Lock()
	if !z.running {
		z.mu.Unlock()
		return
	}
	z.running = false
	cancel, rep := z.cancel, z.rep
	z.mu.Unlock()

	cancel()
	if err := rep.Close(); err != nil {
		Logger().Debug("failed to close rep socket", zap.Error(err))
	}
	z.wg.Wait()
}

func (z *ZmqServer) serveLoop(ctx context.Context, rep zmq4.Socket) {
	defer z.wg.Done()

	backoff := time.Duration(0)
	for {
		msg, err := rep.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff)
			Logger().Debug("failed to receive request",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		response, err := z.handler.Process(ctx, msg.Bytes())
		if err != nil {
			Logger().Error("failed to process request", zap.Error(err))
			response = []byte(`{"ok":false,"error":"internal error"}`)
		}

		if err := rep.Send(zmq4.NewMsg(response)); err != nil {
			if ctx.Err() != nil {
				return
			}
			Logger().Debug("failed to send response", zap.Error(err))
		}
	}
}

// nextBackoff doubles d within [minRecvBackoff, maxRecvBackoff].
func nextBackoff(d time.Duration) time.Duration {
	return min(max(2*d, minRecvBackoff), maxRecvBackoff)
}

// SendZmq sends one request to a ZmqServer at address and returns its
// response.
func SendZmq(ctx context.Context, address string, r Request) (*Response, error) {
	req := zmq4.NewReq(ctx)
	defer req.Close()

	if err := req.Dial(address); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	if err := req.Send(zmq4.NewMsg(r.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	msg, err := req.Recv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return DecodeResponse(msg.Bytes())
}
