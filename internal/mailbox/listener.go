package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"greendrake/offerdesk/internal/config"
)

// State of the listener connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateError        State = "error"
	StateEnded        State = "ended"
)

// idleRefresh restarts IDLE before the 29 minute server limit.
const idleRefresh = 25 * time.Minute

// Listener keeps a mailbox session open and threads replies as they arrive.
type Listener struct {
	dialer      Dialer
	handler     MessageHandler
	fetchLimit  int
	idleTimeout time.Duration
	newBackOff  func() backoff.BackOff
	sleep       func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	state         State
	onStateChange func(from, to State)
}

// NewListener builds a listener with exponential reconnect backoff from cfg.
func NewListener(cfg *config.Config, dialer Dialer, handler MessageHandler) *Listener {
	initial, ceiling := cfg.ImapReconnectDelay, cfg.ImapMaxReconnectDelay
	l := &Listener{
		dialer:      dialer,
		handler:     handler,
		fetchLimit:  cfg.ImapFetchLimit,
		idleTimeout: idleRefresh,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = ceiling
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		sleep: sleepContext,
		state: StateDisconnected,
	}
	if l.fetchLimit <= 0 {
		l.fetchLimit = 10
	}
	return l
}

// OnStateChange registers fn to be called on every transition.
func (l *Listener) OnStateChange(fn func(from, to State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStateChange = fn
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	fn := l.onStateChange
	l.mu.Unlock()

	if from == to {
		return
	}
	listenerState.WithLabelValues(string(from)).Set(0)
	listenerState.WithLabelValues(string(to)).Set(1)
	if fn != nil {
		fn(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects, drains and idles until ctx is cancelled, reconnecting with
// backoff after every failure.
func (l *Listener) Run(ctx context.Context) error {
	bo := l.newBackOff()
	for {
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return nil
		}

		l.setState(StateConnecting)
		mb, err := l.dialer.Dial(ctx)
		if err != nil {
			log.Printf("Mailbox connect failed: %v", err)
			l.setState(StateError)
		} else {
			l.setState(StateReady)
			bo.Reset()
			err = l.session(ctx, mb)
			if cerr := mb.Close(); cerr != nil && ctx.Err() == nil {
				log.Printf("Mailbox close: %v", cerr)
			}
			if err != nil && ctx.Err() == nil {
				log.Printf("Mailbox session failed: %v", err)
				l.setState(StateError)
			} else {
				l.setState(StateEnded)
			}
		}
		l.setState(StateDisconnected)

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return errors.New("mailbox reconnect attempts exhausted")
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("Mailbox reconnecting in %s", delay)
		if err := l.sleep(ctx, delay); err != nil {
			return nil
		}
		reconnectsTotal.Inc()
	}
}

// session drains unseen mail and waits for more until ctx ends or the
// connection fails.
func (l *Listener) session(ctx context.Context, mb Mailbox) error {
	if _, err := mb.Select(ctx); err != nil {
		return err
	}
	for {
		if err := l.drain(ctx, mb); err != nil {
			return err
		}
		if err := mb.WaitForUpdate(ctx, l.idleTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// drain processes the most recent unseen messages, oldest first.
func (l *Listener) drain(ctx context.Context, mb Mailbox) error {
	uids, err := mb.SearchUnseen(ctx)
	if err != nil {
		return err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > l.fetchLimit {
		uids = uids[len(uids)-l.fetchLimit:]
	}

	for _, uid := range uids {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := mb.FetchRaw(ctx, uid)
		if err != nil {
			return err
		}
		outcome, err := l.handler.Handle(ctx, raw)
		if err != nil && outcome != OutcomeDiscarded {
			return fmt.Errorf("handling message %d: %w", uid, err)
		}
		if err != nil {
			log.Printf("Discarding unparseable message %d: %v", uid, err)
		}
		inboundTotal.WithLabelValues(string(outcome)).Inc()
		if err := mb.MarkSeen(ctx, uid); err != nil {
			return err
		}
	}
	return nil
}
