package wire

import (
	"context"
	"sync"

	"github.com/codplayer/codplayer/internal/model"
)

// Hub is an in-process Publisher and CommandReceiver connected by Go
// channels instead of ZeroMQ sockets, used by every test in place of
// the websocket transport in internal/wire/wswire. Every Subscribe*
// call gets its own single-slot channel holding the latest published
// value, matching a SUB socket's "only the newest state matters"
// usage in the original rather than queuing every intermediate tick.
type Hub struct {
	mu        sync.Mutex
	stateSubs map[chan model.State]struct{}
	ripSubs   map[chan model.RipState]struct{}
	discSubs  map[chan *model.Disc]struct{}

	commands chan commandRequest
}

type commandRequest struct {
	cmd   string
	args  []string
	reply chan Reply
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		stateSubs: make(map[chan model.State]struct{}),
		ripSubs:   make(map[chan model.RipState]struct{}),
		discSubs:  make(map[chan *model.Disc]struct{}),
		commands:  make(chan commandRequest),
	}
}

func latest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// PublishState implements Publisher.
func (h *Hub) PublishState(s model.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.stateSubs {
		latest(ch, s)
	}
}

// PublishRipState implements Publisher.
func (h *Hub) PublishRipState(r model.RipState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.ripSubs {
		latest(ch, r)
	}
}

// PublishDisc implements Publisher.
func (h *Hub) PublishDisc(d *model.Disc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.discSubs {
		latest(ch, d)
	}
}

// SubscribeState registers a new state subscriber. Call the returned
// func to unsubscribe.
func (h *Hub) SubscribeState() (<-chan model.State, func()) {
	ch := make(chan model.State, 1)
	h.mu.Lock()
	h.stateSubs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.stateSubs, ch)
		h.mu.Unlock()
	}
}

// SubscribeRipState registers a new rip-state subscriber.
func (h *Hub) SubscribeRipState() (<-chan model.RipState, func()) {
	ch := make(chan model.RipState, 1)
	h.mu.Lock()
	h.ripSubs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.ripSubs, ch)
		h.mu.Unlock()
	}
}

// SubscribeDisc registers a new disc subscriber.
func (h *Hub) SubscribeDisc() (<-chan *model.Disc, func()) {
	ch := make(chan *model.Disc, 1)
	h.mu.Lock()
	h.discSubs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.discSubs, ch)
		h.mu.Unlock()
	}
}

// Call sends a command and blocks for its reply, the in-process
// equivalent of zerohub.py's AsyncRPCClient.call over a REQ socket.
func (h *Hub) Call(cmd string, args ...string) Reply {
	reply := make(chan Reply, 1)
	h.commands <- commandRequest{cmd: cmd, args: args, reply: reply}
	return <-reply
}

// Serve implements CommandReceiver, dispatching one command at a time
// to handle until ctx is done.
func (h *Hub) Serve(ctx context.Context, handle CommandHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-h.commands:
			req.reply <- handle(req.cmd, req.args)
		}
	}
}
