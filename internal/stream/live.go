package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/manifest-network/eventstream/internal/classify"
)

// State is the connection state of a LiveSource.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateRecovering:
		return "recovering"
	default:
		return "disconnected"
	}
}

// EventType is the kind of a subscription lifecycle event.
type EventType int

const (
	EventConnected EventType = iota
	EventMessage
	EventConnectionFailed
)

// Event is a lifecycle event emitted by a Subscriber.
type Event struct {
	Type    EventType
	Payload []byte
	Err     error
}

// Subscriber is a push subscription transport.
type Subscriber interface {
	// Connect opens the connection. On success an EventConnected is delivered on Events.
	Connect(ctx context.Context) error
	// Subscribe asks the node for events matching query.
	Subscribe(ctx context.Context, query string) error
	// Events returns the channel lifecycle events are delivered on. It stays the same across reconnects.
	Events() <-chan Event
	// Close unsubscribes and releases the connection. It is safe to call in any state and more than once.
	Close() error
}

// ConvertFunc turns a classified live message into a stream item.
// It returns false to skip the message. A *classify.DecodeError skips the message too;
// any other error is fatal to the live source.
type ConvertFunc[T any] func(ctx context.Context, msg classify.Message) (T, bool, error)

// LiveSource keeps a subscription open and turns the messages it receives into items.
type LiveSource[T any] struct {
	Subscriber Subscriber
	Classifier *classify.Chain
	// Query is the subscription query, for example tm.event='NewBlock'.
	Query string
	// Accept is the message kind items are made from.
	Accept  classify.Kind
	Convert ConvertFunc[T]
	// Backoff returns a fresh reconnect strategy. It is called again after every successful
	// subscription. When nil, a lost connection is fatal.
	Backoff  func() retry.Backoff
	Observer Observer

	state atomic.Int32
}

// State returns the current connection state.
func (l *LiveSource[T]) State() State {
	return State(l.state.Load())
}

func (l *LiveSource[T]) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		slog.Debug("Live source state", "state", s.String())
		observerOrNop(l.Observer).LiveState(s)
	}
}

// connectionLost wraps a transport failure that the reconnect strategy may recover from.
type connectionLost struct {
	cause error
}

func (e *connectionLost) Error() string { return fmt.Sprintf("connection lost: %v", e.cause) }
func (e *connectionLost) Unwrap() error { return e.cause }

// Run drives the subscription and sends items to out until ctx is done or a fatal failure occurs.
// It satisfies LiveFunc.
func (l *LiveSource[T]) Run(ctx context.Context, out chan<- T) error {
	if l.Classifier == nil {
		l.Classifier = classify.DefaultChain()
	}
	defer func() {
		if err := l.Subscriber.Close(); err != nil {
			slog.Warn("Failed to close live subscription", "error", err)
		}
		l.setState(StateDisconnected)
	}()

	slog.Info("Starting live stream", "query", l.Query)
	backoff := l.newBackoff()
	for {
		l.setState(StateConnecting)
		err := l.Subscriber.Connect(ctx)
		if err == nil {
			err = l.receive(ctx, out, &backoff)
		} else {
			err = &connectionLost{cause: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var lost *connectionLost
		if !errors.As(err, &lost) {
			return err
		}
		if err := l.recover(ctx, backoff, lost.cause); err != nil {
			return err
		}
	}
}

func (l *LiveSource[T]) newBackoff() retry.Backoff {
	if l.Backoff == nil {
		return nil
	}
	return l.Backoff()
}

// recover waits for the reconnect strategy, or fails when there is none or it gives up.
func (l *LiveSource[T]) recover(ctx context.Context, backoff retry.Backoff, cause error) error {
	l.setState(StateRecovering)
	if backoff == nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, cause)
	}
	wait, stop := backoff.Next()
	if stop {
		return fmt.Errorf("%w: giving up reconnecting: %w", ErrConnectionFailed, cause)
	}
	slog.Warn("Live connection lost, reconnecting", "error", cause, "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *LiveSource[T]) receive(ctx context.Context, out chan<- T, backoff *retry.Backoff) error {
	events := l.Subscriber.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return &connectionLost{cause: errors.New("subscriber event channel closed")}
			}
			switch ev.Type {
			case EventConnected:
				slog.Info("Live connection opened, subscribing", "query", l.Query)
				if err := l.Subscriber.Subscribe(ctx, l.Query); err != nil {
					return &connectionLost{cause: fmt.Errorf("failed to subscribe: %w", err)}
				}
				l.setState(StateSubscribed)
				*backoff = l.newBackoff()
			case EventMessage:
				l.setState(StateReceiving)
				if err := l.handle(ctx, ev.Payload, out); err != nil {
					return err
				}
			case EventConnectionFailed:
				return &connectionLost{cause: ev.Err}
			}
		}
	}
}

// handle classifies one payload. Message-scoped faults are logged and absorbed.
func (l *LiveSource[T]) handle(ctx context.Context, payload []byte, out chan<- T) error {
	observer := observerOrNop(l.Observer)
	var decodeErr *classify.DecodeError

	msg, err := l.Classifier.Classify(payload)
	if err != nil {
		if errors.As(err, &decodeErr) {
			observer.LiveMessage("decode_error")
			slog.Warn("Skipping undecodable live message", "error", err)
			return nil
		}
		return err
	}
	observer.LiveMessage(msg.Kind.String())

	switch msg.Kind {
	case classify.KindEmpty:
		slog.Debug("Received empty ack message", "payload", string(payload))
	case classify.KindError:
		slog.Error("Upstream error from RPC endpoint", "error", msg.Err)
	case classify.KindPanic:
		slog.Error("Upstream panic from RPC endpoint", "error", msg.Err)
		return fmt.Errorf("%w: %w", ErrUpstreamPanic, msg.Err)
	case classify.KindNewBlock, classify.KindNewBlockHeader:
		if msg.Kind != l.Accept {
			slog.Debug("Ignoring live message of unexpected kind", "kind", msg.Kind.String())
			return nil
		}
		height := msg.Height()
		item, ok, err := l.Convert(ctx, msg)
		if err != nil {
			if errors.As(err, &decodeErr) {
				slog.Warn("Skipping undecodable live block", "height", height, "error", err)
				return nil
			}
			return fmt.Errorf("failed to convert live height %d: %w", height, err)
		}
		if !ok {
			slog.Info("Skipping live block", "height", height)
			return nil
		}
		slog.Debug("Received live block", "height", height)
		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		slog.Debug("Unknown message type, skipping", "payload", string(payload))
	}
	return nil
}
