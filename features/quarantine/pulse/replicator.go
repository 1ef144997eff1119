// Package pulse replicates operator quarantine decisions between vault
// processes through a Pulse replicated map backed by Redis.
//
// Each process announces its operator decisions by writing the sentry entry
// of the shared map. Every process watches the map and applies decisions
// made by other nodes to its local vault. Automatic trips are never shared:
// they reflect local observations of a sentry.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
)

// DefaultMapName is the replicated map used when none is configured.
const DefaultMapName = "vault-quarantine"

const keyPrefix = "sentry:"

type (
	// Applier applies a decision taken on another node. *vault.Vault
	// satisfies it.
	Applier interface {
		ApplyRemote(ctx context.Context, sentry string, quarantined bool) error
	}

	// Decision is the replicated state of one sentry.
	Decision struct {
		Quarantined bool      `json:"quarantined"`
		Node        string    `json:"node"`
		At          time.Time `json:"at"`
	}

	// Replicator announces local operator decisions and applies remote ones.
	// It implements vault.Replicator.
	Replicator struct {
		m      decisionMap
		owned  *rmap.Map
		node   string
		logger telemetry.Logger
		now    func() time.Time

		mu   sync.Mutex
		seen map[string]string
	}

	// Option configures a Replicator.
	Option func(*Replicator)

	// decisionMap is the subset of rmap.Map used by the replicator.
	decisionMap interface {
		Get(key string) (string, bool)
		Set(ctx context.Context, key, value string) (string, error)
		Keys() []string
		Subscribe() <-chan rmap.EventKind
		Unsubscribe(c <-chan rmap.EventKind)
	}
)

// WithNodeID sets the identity written with announced decisions. Defaults to
// a random UUID.
func WithNodeID(id string) Option {
	return func(r *Replicator) {
		if id != "" {
			r.node = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Replicator) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) {
		if now != nil {
			r.now = now
		}
	}
}

// Join joins the replicated map name on rdb. Close releases the map.
func Join(ctx context.Context, name string, rdb *redis.Client, opts ...Option) (*Replicator, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		name = DefaultMapName
	}
	m, err := rmap.Join(ctx, name, rdb)
	if err != nil {
		return nil, fmt.Errorf("join quarantine map %q: %w", name, err)
	}
	r := newReplicator(m, opts...)
	r.owned = m
	return r, nil
}

// New returns a replicator over an already joined map.
func New(m *rmap.Map, opts ...Option) *Replicator {
	return newReplicator(m, opts...)
}

func newReplicator(m decisionMap, opts ...Option) *Replicator {
	r := &Replicator{
		m:      m,
		node:   uuid.NewString(),
		logger: telemetry.NewNoopLogger(),
		now:    time.Now,
		seen:   make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NodeID returns the identity of this node.
func (r *Replicator) NodeID() string { return r.node }

// Announce publishes a local operator decision.
func (r *Replicator) Announce(ctx context.Context, sentry string, quarantined bool) error {
	b, err := json.Marshal(Decision{Quarantined: quarantined, Node: r.node, At: r.now().UTC()})
	if err != nil {
		return err
	}
	key := keyPrefix + sentry
	val := string(b)
	r.mu.Lock()
	r.seen[key] = val
	r.mu.Unlock()
	if _, err := r.m.Set(ctx, key, val); err != nil {
		return fmt.Errorf("announce %q: %w", sentry, err)
	}
	return nil
}

// Decision returns the replicated decision for sentry, if any.
func (r *Replicator) Decision(sentry string) (Decision, bool) {
	val, ok := r.m.Get(keyPrefix + sentry)
	if !ok {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

// Run applies existing and future remote decisions to target until ctx is
// canceled.
func (r *Replicator) Run(ctx context.Context, target Applier) error {
	if target == nil {
		return errors.New("target is required")
	}
	events := r.m.Subscribe()
	defer r.m.Unsubscribe(events)

	r.sync(ctx, target)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			r.sync(ctx, target)
		}
	}
}

// Close releases the map when the replicator joined it.
func (r *Replicator) Close() {
	if r.owned != nil {
		r.owned.Close()
	}
}

// sync applies every entry changed since the last pass.
func (r *Replicator) sync(ctx context.Context, target Applier) {
	for _, key := range r.m.Keys() {
		sentry, ok := strings.CutPrefix(key, keyPrefix)
		if !ok {
			continue
		}
		val, ok := r.m.Get(key)
		if !ok {
			continue
		}
		r.mu.Lock()
		changed := r.seen[key] != val
		r.seen[key] = val
		r.mu.Unlock()
		if !changed {
			continue
		}
		var d Decision
		if err := json.Unmarshal([]byte(val), &d); err != nil {
			r.logger.Warn(ctx, "ignoring malformed quarantine decision", "sentry", sentry, "error", err)
			continue
		}
		if d.Node == r.node {
			continue
		}
		if err := target.ApplyRemote(ctx, sentry, d.Quarantined); err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				r.logger.Debug(ctx, "remote decision for unknown sentry", "sentry", sentry, "node", d.Node)
				continue
			}
			r.logger.Error(ctx, "apply remote quarantine decision", "sentry", sentry, "node", d.Node, "error", err)
			continue
		}
		r.logger.Info(ctx, "applied remote quarantine decision", "sentry", sentry, "node", d.Node, "quarantined", d.Quarantined)
	}
}
