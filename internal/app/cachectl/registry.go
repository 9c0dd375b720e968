package cachectl

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Control message types accepted by Registry.Post.
const (
	MsgSkipWaiting = "SKIP_WAITING"
	MsgGetVersion  = "GET_VERSION"
)

// ErrUnknownMessage is returned by Post for an unrecognised message type.
var ErrUnknownMessage = errors.New("cachectl: unknown control message")

// Message is a control-channel message. Reply, when set, receives the answer to
// GET_VERSION; it should be buffered.
type Message struct {
	Type  string       `json:"type"`
	Reply chan<- Reply `json:"-"`
}

// Reply answers a control message.
type Reply struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// Registry holds the active controller and at most one waiting successor.
type Registry struct {
	mu      sync.Mutex
	active  *Controller
	waiting *Controller

	// retiring tracks replaced controllers still draining background work.
	retiring sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Active returns the controller currently in charge, or nil.
func (r *Registry) Active() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed controller waiting for activation, or nil.
func (r *Registry) Waiting() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Register installs c. With no active controller it activates immediately; otherwise
// it waits for SKIP_WAITING, replacing any previous waiting controller.
func (r *Registry) Register(ctx context.Context, c *Controller) error {
	if err := c.Install(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.active == nil {
		err := r.promote(ctx, c)
		r.mu.Unlock()
		return err
	}
	replaced := r.waiting
	r.waiting = c
	r.mu.Unlock()

	if replaced != nil {
		replaced.retire()
	}
	return nil
}

// promote activates c and makes it the active controller. The previous one drains
// its background work outside r.mu. r.mu must be held.
func (r *Registry) promote(ctx context.Context, c *Controller) error {
	if err := c.Activate(ctx); err != nil {
		return fmt.Errorf("activate %s: %w", c.Version(), err)
	}
	if old := r.active; old != nil {
		old.markRedundant()
		r.retiring.Go(old.retire)
	}
	r.active = c
	return nil
}

// SkipWaiting activates the waiting controller, if any.
func (r *Registry) SkipWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == nil {
		return nil
	}
	next := r.waiting
	r.waiting = nil
	return r.promote(ctx, next)
}

// Post delivers a control message.
func (r *Registry) Post(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MsgSkipWaiting:
		return r.SkipWaiting(ctx)

	case MsgGetVersion:
		var version string
		if a := r.Active(); a != nil {
			version = a.Version()
		}
		if msg.Reply != nil {
			select {
			case msg.Reply <- Reply{Type: "VERSION", Version: version}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// Close retires every controller and waits for their background work.
func (r *Registry) Close() {
	r.mu.Lock()
	retired := []*Controller{r.waiting, r.active}
	r.waiting, r.active = nil, nil
	r.mu.Unlock()

	for _, c := range retired {
		if c != nil {
			c.retire()
		}
	}
	r.retiring.Wait()
}
