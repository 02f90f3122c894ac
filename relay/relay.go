// Package relay implements the websocket transport to a single nostr relay:
// connection lifecycle, per-connection mutual exclusion between senders and
// receivers, and the publish/fetch/subscribe operations the wallet's state
// reconstructor and proof lifecycle engine build on.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Routstr/sixty-nuts/nostr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrUnreachable       = errors.New("relay: unreachable")
	ErrProtocolViolation = errors.New("relay: protocol violation")
	ErrTimeout           = errors.New("relay: timeout")
	ErrClosed            = errors.New("relay: connection closed")
)

// RejectedError wraps a relay's stated reason for refusing an event or
// subscription.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay: rejected: %s", e.Reason)
}

// Relay is one long-lived websocket connection to a single relay URL.
// connMu guards closing the connection and sendMu serializes writes; a
// single reader goroutine owns all reads from the socket, so callers never
// interleave reads on the same connection.
type Relay struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	sendMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]*subscription

	okReg *okRegistry

	closeOnce sync.Once
	done      chan struct{}
}

type subscription struct {
	events chan *nostr.Event
	eose   chan struct{}
	closed chan string
}

// New dials url and starts the background read loop. The returned Relay is
// ready for Publish/Fetch/Subscribe.
func New(ctx context.Context, url string) (*Relay, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, url, err)
	}

	r := &Relay{
		url:  url,
		conn: conn,
		subs: make(map[string]*subscription),
		done: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// URL returns the relay's websocket URL.
func (r *Relay) URL() string { return r.url }

// Close terminates the connection and its read loop.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.connMu.Lock()
		err = r.conn.Close()
		r.connMu.Unlock()
	})
	return err
}

func (r *Relay) readLoop() {
	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			r.broadcastClosed(err.Error())
			return
		}
		r.dispatch(raw)
	}
}

func (r *Relay) broadcastClosed(reason string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, sub := range r.subs {
		select {
		case sub.closed <- reason:
		default:
		}
		delete(r.subs, id)
	}
}

func (r *Relay) dispatch(raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 1 {
		return
	}

	var msgType string
	if err := json.Unmarshal(frame[0], &msgType); err != nil {
		return
	}

	switch msgType {
	case nostr.MessageTypeEvent:
		r.handleEvent(frame)
	case nostr.MessageTypeEOSE:
		r.handleEOSE(frame)
	case nostr.MessageTypeClosed:
		r.handleClosedFrame(frame)
	case nostr.MessageTypeOK, nostr.MessageTypeNotice:
		// OK is handed to the waiting Publish over its okRegistry channel;
		// NOTICE is dropped
		r.handleOK(msgType, frame)
	}
}

func (r *Relay) handleEvent(frame []json.RawMessage) {
	if len(frame) < 3 {
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		return
	}
	var event nostr.Event
	if err := json.Unmarshal(frame[2], &event); err != nil {
		return
	}

	r.subMu.Lock()
	sub, ok := r.subs[subID]
	r.subMu.Unlock()
	if !ok {
		return
	}

	select {
	case sub.events <- &event:
	case <-r.done:
	}
}

func (r *Relay) handleEOSE(frame []json.RawMessage) {
	if len(frame) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		return
	}

	r.subMu.Lock()
	sub, ok := r.subs[subID]
	r.subMu.Unlock()
	if !ok {
		return
	}

	select {
	case sub.eose <- struct{}{}:
	default:
	}
}

func (r *Relay) handleClosedFrame(frame []json.RawMessage) {
	if len(frame) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		return
	}
	msg := ""
	if len(frame) >= 3 {
		json.Unmarshal(frame[2], &msg)
	}

	r.subMu.Lock()
	sub, ok := r.subs[subID]
	if ok {
		delete(r.subs, subID)
	}
	r.subMu.Unlock()
	if !ok {
		return
	}

	select {
	case sub.closed <- msg:
	default:
	}
}

var okWaitersMu sync.Mutex

// okRegistry routes ["OK", id, accepted, reason] frames back to the
// Publish call awaiting that event id. Kept separate from the subscription
// table since OK acks are not scoped to a subscription.
type okRegistry struct {
	mu sync.Mutex
	m  map[string]chan nostr.OKMessage
}

func (r *Relay) okWaiters() *okRegistry {
	okWaitersMu.Lock()
	defer okWaitersMu.Unlock()
	if r.okReg == nil {
		r.okReg = &okRegistry{m: make(map[string]chan nostr.OKMessage)}
	}
	return r.okReg
}

func (r *Relay) handleOK(msgType string, frame []json.RawMessage) {
	if msgType != nostr.MessageTypeOK || len(frame) < 3 {
		return
	}
	var eventID string
	var accepted bool
	var reason string
	json.Unmarshal(frame[1], &eventID)
	json.Unmarshal(frame[2], &accepted)
	if len(frame) >= 4 {
		json.Unmarshal(frame[3], &reason)
	}

	reg := r.okWaiters()
	reg.mu.Lock()
	ch, ok := reg.m[eventID]
	if ok {
		delete(reg.m, eventID)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- nostr.OKMessage{EventID: eventID, Accepted: accepted, Message: reason}:
	default:
	}
}

func (r *Relay) write(v any) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.conn.WriteJSON(v)
}

// Publish sends ["EVENT", event] and waits for the relay's OK
// acknowledgement, returning whether the relay accepted it.
func (r *Relay) Publish(ctx context.Context, event *nostr.Event) (bool, error) {
	reg := r.okWaiters()
	ch := make(chan nostr.OKMessage, 1)
	reg.mu.Lock()
	reg.m[event.ID] = ch
	reg.mu.Unlock()

	if err := r.write([2]any{nostr.MessageTypeEvent, event}); err != nil {
		reg.mu.Lock()
		delete(reg.m, event.ID)
		reg.mu.Unlock()
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	select {
	case ok := <-ch:
		if !ok.Accepted {
			return false, &RejectedError{Reason: ok.Message}
		}
		return true, nil
	case <-ctx.Done():
		reg.mu.Lock()
		delete(reg.m, event.ID)
		reg.mu.Unlock()
		return false, ErrTimeout
	case <-r.done:
		return false, ErrClosed
	}
}

// Fetch opens a one-shot subscription for filters, collects events until
// EOSE or timeout, then closes it. A timeout still returns whatever events
// arrived, per the engine's best-effort-union tolerance.
func (r *Relay) Fetch(ctx context.Context, filters []nostr.Filter) ([]*nostr.Event, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()
	}

	subID := uuid.NewString()
	sub := &subscription{
		events: make(chan *nostr.Event, 256),
		eose:   make(chan struct{}, 1),
		closed: make(chan string, 1),
	}

	r.subMu.Lock()
	r.subs[subID] = sub
	r.subMu.Unlock()
	defer func() {
		r.subMu.Lock()
		delete(r.subs, subID)
		r.subMu.Unlock()
	}()

	req := append([]any{nostr.MessageTypeReq, subID}, filtersToAny(filters)...)
	if err := r.write(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer r.write([2]any{nostr.MessageTypeClose, subID})

	var collected []*nostr.Event
	for {
		select {
		case e := <-sub.events:
			collected = append(collected, e)
		case <-sub.eose:
			// events are queued before EOSE is signalled; take any still buffered
			for {
				select {
				case e := <-sub.events:
					collected = append(collected, e)
				default:
					return collected, nil
				}
			}
		case reason := <-sub.closed:
			return collected, &RejectedError{Reason: reason}
		case <-ctx.Done():
			return collected, nil
		case <-r.done:
			return collected, ErrClosed
		}
	}
}

// Subscribe opens a streaming subscription and invokes handler for each
// event until ctx is cancelled or the relay closes the subscription.
func (r *Relay) Subscribe(ctx context.Context, filters []nostr.Filter, handler func(*nostr.Event)) error {
	subID := uuid.NewString()
	sub := &subscription{
		events: make(chan *nostr.Event, 256),
		eose:   make(chan struct{}, 1),
		closed: make(chan string, 1),
	}

	r.subMu.Lock()
	r.subs[subID] = sub
	r.subMu.Unlock()
	defer func() {
		r.subMu.Lock()
		delete(r.subs, subID)
		r.subMu.Unlock()
		r.write([2]any{nostr.MessageTypeClose, subID})
	}()

	req := append([]any{nostr.MessageTypeReq, subID}, filtersToAny(filters)...)
	if err := r.write(req); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	for {
		select {
		case e := <-sub.events:
			handler(e)
		case <-sub.eose:
			// streaming continues past EOSE; only a CLOSED or cancel ends it
		case reason := <-sub.closed:
			return &RejectedError{Reason: reason}
		case <-ctx.Done():
			return nil
		case <-r.done:
			return ErrClosed
		}
	}
}

func filtersToAny(filters []nostr.Filter) []any {
	out := make([]any, len(filters))
	for i, f := range filters {
		out[i] = f
	}
	return out
}

// defaultFetchTimeout bounds Fetch calls made without a context deadline.
const defaultFetchTimeout = 10 * time.Second
