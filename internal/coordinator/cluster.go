package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	sioc "github.com/zishang520/socket.io-client-go/socket"
	sio "github.com/zishang520/socket.io/v2/socket"

	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/tensor"
)

// Cluster is the multi-process Coordinator. The root participant hosts a
// socket.io endpoint; every other participant connects to it as a client.
// Collectives are root-coordinated message exchanges tagged with a sequence
// number that advances identically on every participant.
type Cluster struct {
	rank int
	size int

	// next collective sequence number, advanced on every collective call.
	seq int64

	// root side
	server    *sio.Server
	webServer *types.HttpServer
	mu        sync.Mutex
	peers     map[int]*sio.Socket
	reduces   chan reduceMsg

	// worker side
	sock   *sioc.Socket
	bcasts chan map[string]any
}

type reduceMsg struct {
	seq   int64
	rank  int
	grads map[string][]float64
}

// NewCluster joins (or, on the root, forms) a training cluster and blocks
// until every participant has arrived. listen is the root's bind address;
// rootURL is how the other participants reach it.
func NewCluster(ctx context.Context, rank, size int, listen, rootURL string) (*Cluster, error) {
	if size < 2 {
		return nil, fmt.Errorf("a cluster needs at least 2 participants, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d outside cluster of size %d", rank, size)
	}
	c := &Cluster{rank: rank, size: size}
	if rank == RootRank {
		if err := c.serve(ctx, listen); err != nil {
			return nil, err
		}
	} else {
		if err := c.connect(ctx, rootURL); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Rank implements Coordinator.
func (c *Cluster) Rank() int { return c.rank }

// Size implements Coordinator.
func (c *Cluster) Size() int { return c.size }

// IsRoot implements Coordinator.
func (c *Cluster) IsRoot() bool { return c.rank == RootRank }

// serve starts the root's socket.io endpoint and waits for size-1 workers.
func (c *Cluster) serve(ctx context.Context, listen string) error {
	logger := ctxlog.FromContext(ctx).With("component", "cluster", "rank", c.rank)
	if listen == "" {
		return fmt.Errorf("the root participant requires a listen address")
	}

	c.peers = make(map[int]*sio.Socket, c.size-1)
	c.reduces = make(chan reduceMsg, c.size)
	joined := make(chan int, c.size)

	c.webServer = types.NewWebServer(nil)
	c.server = sio.NewServer(c.webServer, nil)
	c.server.On("connection", func(clients ...any) {
		peer := clients[0].(*sio.Socket)
		peer.On("hello", func(args ...any) {
			rank, err := toInt(args[0])
			if err != nil {
				logger.Error("Rejecting peer with malformed hello", "error", err)
				peer.Disconnect(true)
				return
			}
			c.mu.Lock()
			c.peers[int(rank)] = peer
			c.mu.Unlock()
			joined <- int(rank)
		})
		peer.On("reduce", func(args ...any) {
			msg, err := decodeReduce(args[0])
			if err != nil {
				logger.Error("Dropping malformed reduce message", "error", err)
				return
			}
			c.reduces <- msg
		})
	})

	c.webServer.Listen(listen, nil)
	logger.Info("Waiting for participants", "listen", listen, "expected", c.size-1)

	// Rendezvous: training must not start before the full cluster is up.
	for n := 0; n < c.size-1; n++ {
		rank := <-joined
		logger.Info("Participant joined", "peer_rank", rank)
	}
	logger.Info("Cluster complete", "size", c.size)
	return nil
}

// connect dials the root from a worker and announces this participant's rank.
func (c *Cluster) connect(ctx context.Context, rootURL string) error {
	logger := ctxlog.FromContext(ctx).With("component", "cluster", "rank", c.rank)
	if rootURL == "" {
		return fmt.Errorf("participant %d requires the root URL", c.rank)
	}
	parsedURL, err := url.Parse(rootURL)
	if err != nil {
		return fmt.Errorf("failed to parse root URL: %w", err)
	}

	opts := sioc.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))

	c.bcasts = make(chan map[string]any, 4)
	connected := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := sioc.NewManager(baseURL, opts)
	c.sock = manager.Socket("/", opts)

	c.sock.On(types.EventName("bcast"), func(args ...any) {
		payload, ok := args[0].(map[string]any)
		if !ok {
			logger.Error("Dropping malformed broadcast payload")
			return
		}
		c.bcasts <- payload
	})
	c.sock.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to root", "sid", c.sock.Id())
		connected <- nil
	})
	c.sock.Once(types.EventName("connect_error"), func(errs ...any) {
		connected <- errs[0].(error)
	})

	c.sock.Connect()

	// Block without timeout: a cluster that never forms hangs here, which is
	// the documented failure mode for desynchronized participants.
	if err := <-connected; err != nil {
		c.sock.Disconnect()
		return fmt.Errorf("failed to join cluster at %s: %w", rootURL, err)
	}
	if err := c.sock.Emit("hello", c.rank); err != nil {
		c.sock.Disconnect()
		return fmt.Errorf("failed to announce rank to root: %w", err)
	}
	return nil
}

// BroadcastFloat64 implements Coordinator.
func (c *Cluster) BroadcastFloat64(v float64) (float64, error) {
	payload, err := c.exchange(map[string]any{"value": v})
	if err != nil {
		return 0, err
	}
	if c.IsRoot() {
		return v, nil
	}
	out, ok := payload["value"].(float64)
	if !ok {
		return 0, fmt.Errorf("broadcast payload has no float value")
	}
	return out, nil
}

// BroadcastInt implements Coordinator.
func (c *Cluster) BroadcastInt(v int64) (int64, error) {
	payload, err := c.exchange(map[string]any{"value": v})
	if err != nil {
		return 0, err
	}
	if c.IsRoot() {
		return v, nil
	}
	return toInt(payload["value"])
}

// BroadcastState implements Coordinator.
func (c *Cluster) BroadcastState(state map[string][]float64) (map[string][]float64, error) {
	payload, err := c.exchange(map[string]any{"state": encodeState(state)})
	if err != nil {
		return nil, err
	}
	if c.IsRoot() {
		return state, nil
	}
	return decodeState(payload["state"])
}

// AllReduceGrads implements Coordinator. Workers send their gradients to the
// root; the root averages all contributions and broadcasts the result, which
// every participant installs in place.
func (c *Cluster) AllReduceGrads(params []*tensor.Param) error {
	seq := c.nextSeq()
	local := make(map[string][]float64, len(params))
	for _, p := range params {
		if p.Grad != nil {
			local[p.Name] = p.Grad
		}
	}

	var avg map[string][]float64
	if c.IsRoot() {
		sums := make(map[string][]float64, len(local))
		for name, grad := range local {
			sum := make([]float64, len(grad))
			copy(sum, grad)
			sums[name] = sum
		}
		for n := 0; n < c.size-1; n++ {
			msg := <-c.reduces
			if msg.seq != seq {
				return fmt.Errorf("allreduce got sequence %d from rank %d, want %d", msg.seq, msg.rank, seq)
			}
			for name, grad := range msg.grads {
				sum, ok := sums[name]
				if !ok || len(sum) != len(grad) {
					return fmt.Errorf("allreduce gradient shape mismatch for %q from rank %d", name, msg.rank)
				}
				for i, g := range grad {
					sum[i] += g
				}
			}
		}
		inv := 1.0 / float64(c.size)
		for _, sum := range sums {
			for i := range sum {
				sum[i] *= inv
			}
		}
		avg = sums
		if err := c.emitToPeers("bcast", map[string]any{"seq": seq, "grads": encodeState(avg)}); err != nil {
			return err
		}
	} else {
		err := c.sock.Emit("reduce", map[string]any{"seq": seq, "rank": c.rank, "grads": encodeState(local)})
		if err != nil {
			return fmt.Errorf("failed to send gradients to root: %w", err)
		}
		payload, err := c.awaitBcast(seq)
		if err != nil {
			return err
		}
		avg, err = decodeState(payload["grads"])
		if err != nil {
			return err
		}
	}

	for _, p := range params {
		grad, ok := avg[p.Name]
		if !ok {
			continue
		}
		if len(grad) != len(p.Data) {
			return fmt.Errorf("averaged gradient for %q has size %d, want %d", p.Name, len(grad), len(p.Data))
		}
		copy(p.EnsureGrad(), grad)
	}
	return nil
}

// Close implements Coordinator.
func (c *Cluster) Close() error {
	if c.IsRoot() {
		if c.server != nil {
			c.server.Close(nil)
		}
		if c.webServer != nil {
			c.webServer.Close(nil)
		}
		return nil
	}
	if c.sock != nil {
		c.sock.Disconnect()
	}
	return nil
}

// exchange runs one root-to-all broadcast of a payload and returns the
// payload as seen by this participant.
func (c *Cluster) exchange(payload map[string]any) (map[string]any, error) {
	seq := c.nextSeq()
	if c.IsRoot() {
		payload["seq"] = seq
		if err := c.emitToPeers("bcast", payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return c.awaitBcast(seq)
}

// nextSeq advances the collective sequence number. All participants call the
// collectives in the same order, so the counters stay aligned without any
// negotiation.
func (c *Cluster) nextSeq() int64 {
	c.seq++
	return c.seq
}

func (c *Cluster) emitToPeers(event string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for rank, peer := range c.peers {
		if err := peer.Emit(event, payload); err != nil {
			return fmt.Errorf("failed to send %s to rank %d: %w", event, rank, err)
		}
	}
	return nil
}

// awaitBcast blocks until the broadcast with the given sequence number
// arrives. Messages arrive in emit order, so a mismatched sequence means the
// participants have diverged.
func (c *Cluster) awaitBcast(seq int64) (map[string]any, error) {
	payload := <-c.bcasts
	got, err := toInt(payload["seq"])
	if err != nil {
		return nil, fmt.Errorf("broadcast without sequence number: %w", err)
	}
	if got != seq {
		return nil, fmt.Errorf("broadcast sequence mismatch: got %d, want %d", got, seq)
	}
	return payload, nil
}

// encodeState keeps map values as-is; the socket.io parser serializes
// map[string][]float64 natively.
func encodeState(state map[string][]float64) map[string]any {
	out := make(map[string]any, len(state))
	for name, vals := range state {
		out[name] = vals
	}
	return out
}

func decodeState(v any) (map[string][]float64, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state payload is %T, want an object", v)
	}
	state := make(map[string][]float64, len(raw))
	for name, vals := range raw {
		floats, err := toFloatSlice(vals)
		if err != nil {
			return nil, fmt.Errorf("state entry %q: %w", name, err)
		}
		state[name] = floats
	}
	return state, nil
}

func decodeReduce(v any) (reduceMsg, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return reduceMsg{}, fmt.Errorf("reduce payload is %T, want an object", v)
	}
	seq, err := toInt(raw["seq"])
	if err != nil {
		return reduceMsg{}, err
	}
	rank, err := toInt(raw["rank"])
	if err != nil {
		return reduceMsg{}, err
	}
	grads, err := decodeState(raw["grads"])
	if err != nil {
		return reduceMsg{}, err
	}
	return reduceMsg{seq: seq, rank: int(rank), grads: grads}, nil
}

func toFloatSlice(v any) ([]float64, error) {
	switch vals := v.(type) {
	case []float64:
		return vals, nil
	case []any:
		out := make([]float64, len(vals))
		for i, item := range vals {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want float64", i, item)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want a float slice", v)
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("value is %T, want an integer", v)
	}
}
