// Package hostpath resolves the per-user directory that holds the wallet
// store. Resolution needs one round trip to a host process; the answer is
// memoized for the lifetime of the Resolver.
package hostpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/wallet-store/internal/logging"
)

// DefaultTimeout bounds one host round trip when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrPathResolution wraps every host failure returned by Resolve.
var ErrPathResolution = errors.New("storage path resolution failed")

const flightKey = "user-data"

// Location is an absolute, cleaned directory path.
type Location string

// String implements fmt.Stringer.
func (l Location) String() string { return string(l) }

// Join returns the path of name inside the location.
func (l Location) Join(name string) string {
	return filepath.Join(string(l), name)
}

// State describes where a Resolver is in its lifecycle.
type State int

const (
	StateUnset State = iota
	StatePending
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return "unset"
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-request deadline for the host call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Resolver memoizes the storage location reported by a Host. It is safe for
// concurrent use; concurrent first calls share a single host request.
type Resolver struct {
	host    Host
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	state    State
	location Location
}

// NewResolver returns a Resolver backed by host.
func NewResolver(host Host, opts ...Option) *Resolver {
	r := &Resolver{
		host:    host,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the current lifecycle state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cached returns the resolved location without blocking or contacting the host.
func (r *Resolver) Cached() (Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location, r.state == StateResolved
}

// Resolve returns the storage location, asking the host on first use.
// Failures are returned to every waiting caller and are not cached.
// Cancelling ctx abandons only this caller's wait; the shared request keeps
// running for the others until its own deadline.
func (r *Resolver) Resolve(ctx context.Context) (Location, error) {
	if loc, ok := r.Cached(); ok {
		return loc, nil
	}

	ch := r.group.DoChan(flightKey, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Location), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrPathResolution, ctx.Err())
	}
}

func (r *Resolver) fetch(ctx context.Context) (Location, error) {
	r.mu.Lock()
	if r.state == StateResolved {
		loc := r.location
		r.mu.Unlock()
		return loc, nil
	}
	r.state = StatePending
	r.mu.Unlock()

	logger := logging.Component(ctx, r.logger, "hostpath", "resolve")

	if r.host == nil {
		return r.fail(logger, errors.New("no host configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	raw, err := r.host.UserDataPath(callCtx)
	if err != nil {
		return r.fail(logger, err)
	}
	loc, err := validate(raw)
	if err != nil {
		return r.fail(logger, err)
	}

	r.mu.Lock()
	r.location = loc
	r.state = StateResolved
	r.mu.Unlock()

	logger.Info("storage location resolved",
		"path", string(loc),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return loc, nil
}

func (r *Resolver) fail(logger *slog.Logger, cause error) (Location, error) {
	r.mu.Lock()
	r.state = StateUnset
	r.mu.Unlock()

	logger.Warn("storage location resolution failed", "error", cause)
	return "", fmt.Errorf("%w: %w", ErrPathResolution, cause)
}

func validate(raw string) (Location, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", errors.New("host returned an empty path")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("host returned a relative path %q", path)
	}
	return Location(filepath.Clean(path)), nil
}
