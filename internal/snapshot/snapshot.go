// Package snapshot holds the versioned, copy-on-write routing state shared by
// the endpoint registry and the credential vault.
//
// Readers call Current and keep the returned *Snapshot for the whole request;
// it is never mutated. Writers are serialized by Holder.Update and publish a
// complete new Snapshot atomically, so a reader observes either all of a
// mutation or none of it.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"aigateway/internal/core"
)

// Snapshot is an immutable, versioned view of endpoints and credentials.
type Snapshot struct {
	version     uint64
	digest      uint64
	endpoints   map[string]core.Endpoint
	credentials map[string]core.Credential
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// Digest returns a content hash of the snapshot, independent of version.
// Two instances loaded from the same store produce the same digest.
func (s *Snapshot) Digest() uint64 { return s.digest }

// DigestString returns the digest as a fixed-width hex string.
func (s *Snapshot) DigestString() string {
	return strconv.FormatUint(s.digest, 16)
}

// Endpoint looks up an endpoint by name.
func (s *Snapshot) Endpoint(name string) (core.Endpoint, bool) {
	ep, ok := s.endpoints[name]
	return ep, ok
}

// Credential looks up a credential by id.
func (s *Snapshot) Credential(id string) (core.Credential, bool) {
	c, ok := s.credentials[id]
	return c, ok
}

// Endpoints returns all endpoints sorted by name.
func (s *Snapshot) Endpoints() []core.Endpoint {
	out := make([]core.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Credentials returns all credentials sorted by id.
func (s *Snapshot) Credentials() []core.Credential {
	out := make([]core.Credential, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// References returns the names of endpoints that reference credential id.
func (s *Snapshot) References(id string) []string {
	var names []string
	for name, ep := range s.endpoints {
		if ep.CredentialRef == id {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultCredential returns the provider-wide default credential for kind.
// When several are flagged, the most recently created wins.
func (s *Snapshot) DefaultCredential(kind core.ProviderKind) (core.Credential, bool) {
	var (
		best  core.Credential
		found bool
	)
	for _, c := range s.credentials {
		if c.ProviderKind != kind || !c.IsDefault() {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best, found = c, true
		}
	}
	return best, found
}

// Draft is the mutable working copy handed to an Update function.
type Draft struct {
	base        *Snapshot
	endpoints   map[string]core.Endpoint
	credentials map[string]core.Credential
}

// Base returns the snapshot the draft was copied from.
func (d *Draft) Base() *Snapshot { return d.base }

// Endpoint looks up an endpoint in the draft.
func (d *Draft) Endpoint(name string) (core.Endpoint, bool) {
	ep, ok := d.endpoints[name]
	return ep, ok
}

// Credential looks up a credential in the draft.
func (d *Draft) Credential(id string) (core.Credential, bool) {
	c, ok := d.credentials[id]
	return c, ok
}

// References returns the endpoints in the draft that reference credential id.
func (d *Draft) References(id string) []string {
	var names []string
	for name, ep := range d.endpoints {
		if ep.CredentialRef == id {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Credentials returns every credential in the draft.
func (d *Draft) Credentials() []core.Credential {
	out := make([]core.Credential, 0, len(d.credentials))
	for _, c := range d.credentials {
		out = append(out, c)
	}
	return out
}

// PutEndpoint inserts or replaces an endpoint.
func (d *Draft) PutEndpoint(ep core.Endpoint) { d.endpoints[ep.Name] = ep }

// DeleteEndpoint removes an endpoint.
func (d *Draft) DeleteEndpoint(name string) { delete(d.endpoints, name) }

// PutCredential inserts or replaces a credential.
func (d *Draft) PutCredential(c core.Credential) { d.credentials[c.ID] = c }

// DeleteCredential removes a credential.
func (d *Draft) DeleteCredential(id string) { delete(d.credentials, id) }

// Holder publishes snapshots to lock-free readers and serializes writers.
type Holder struct {
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	onCommit []func(*Snapshot)
}

// NewHolder creates a holder with an empty version-0 snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(build(0, nil, nil))
	return h
}

// Current returns the latest committed snapshot. It never blocks.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// OnCommit registers fn to run after every committed update, outside the
// writer lock. fn must not call Update synchronously.
func (h *Holder) OnCommit(fn func(*Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCommit = append(h.onCommit, fn)
}

// Update runs fn against a private copy of the current state. If fn returns
// nil the copy is published as the next version; otherwise it is discarded
// and readers never see any part of it.
func (h *Holder) Update(fn func(d *Draft) error) (*Snapshot, error) {
	h.mu.Lock()
	base := h.current.Load()
	d := &Draft{
		base:        base,
		endpoints:   make(map[string]core.Endpoint, len(base.endpoints)+1),
		credentials: make(map[string]core.Credential, len(base.credentials)+1),
	}
	for k, v := range base.endpoints {
		d.endpoints[k] = v
	}
	for k, v := range base.credentials {
		d.credentials[k] = v
	}

	if err := fn(d); err != nil {
		h.mu.Unlock()
		return base, err
	}

	next := build(base.version+1, d.endpoints, d.credentials)
	h.current.Store(next)
	hooks := h.onCommit
	h.mu.Unlock()

	for _, hook := range hooks {
		hook(next)
	}
	return next, nil
}

// Replace publishes a snapshot built from the given state wholesale.
func (h *Holder) Replace(endpoints []core.Endpoint, credentials []core.Credential) *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publish(endpoints, credentials)
}

// Reload runs load under the writer lock and publishes its result wholesale.
// load receives the snapshot it replaces. No Update can commit between the
// read of the backing store and the publish, so a reload never reverts a
// concurrent write. OnCommit hooks do not run.
func (h *Holder) Reload(load func(base *Snapshot) ([]core.Endpoint, []core.Credential, error)) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := h.current.Load()
	endpoints, credentials, err := load(base)
	if err != nil {
		return base, err
	}
	return h.publish(endpoints, credentials), nil
}

// publish must be called with h.mu held.
func (h *Holder) publish(endpoints []core.Endpoint, credentials []core.Credential) *Snapshot {
	eps := make(map[string]core.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		eps[ep.Name] = ep
	}
	creds := make(map[string]core.Credential, len(credentials))
	for _, c := range credentials {
		creds[c.ID] = c
	}
	next := build(h.current.Load().version+1, eps, creds)
	h.current.Store(next)
	return next
}

func build(version uint64, endpoints map[string]core.Endpoint, credentials map[string]core.Credential) *Snapshot {
	if endpoints == nil {
		endpoints = map[string]core.Endpoint{}
	}
	if credentials == nil {
		credentials = map[string]core.Credential{}
	}
	s := &Snapshot{version: version, endpoints: endpoints, credentials: credentials}
	s.digest = digest(s)
	return s
}

// digest hashes the routable content. Secrets are hashed too, so a rotated
// key changes the digest, but the digest itself reveals nothing usable.
func digest(s *Snapshot) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, ep := range s.Endpoints() {
		_, _ = h.WriteString(ep.Name)
		_, _ = h.WriteString(string(ep.ProviderKind))
		_, _ = h.WriteString(ep.ModelID)
		_, _ = h.WriteString(ep.CredentialRef)
		keys := make([]string, 0, len(ep.Options))
		for k := range ep.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString(stringify(ep.Options[k]))
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(ep.UpdatedAt.UnixNano()))
		_, _ = h.Write(buf[:])
	}
	for _, c := range s.Credentials() {
		_, _ = h.WriteString(c.ID)
		_, _ = h.WriteString(string(c.ProviderKind))
		binary.LittleEndian.PutUint64(buf[:], xxhash.Sum64(c.Secret))
		_, _ = h.Write(buf[:])
		keys := make([]string, 0, len(c.Metadata))
		for k := range c.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString(c.Metadata[k])
		}
	}
	return h.Sum64()
}

// fmt prints map keys in sorted order, which keeps nested options stable.
func stringify(v any) string {
	return fmt.Sprint(v)
}
