// Package endpoints implements the endpoint registry: named bindings of a
// provider kind, model and credential that requests are routed by.
package endpoints

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"aigateway/internal/core"
	"aigateway/internal/snapshot"
	"aigateway/internal/store"
)

// reservedNames collide with static gateway routes.
var reservedNames = map[string]bool{"mlflow": true, "ready": true}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Option keys that look like credentials are refused; credentials travel
// only through the vault reference. Keys are compared segment by segment,
// so max_tokens passes while api_token does not.
var (
	secretLikeSegments = map[string]bool{
		"apikey": true, "accesskey": true, "secret": true, "token": true,
		"password": true, "passwd": true, "authorization": true, "credential": true,
	}
	secretLikePairs = [][2]string{{"api", "key"}, {"access", "key"}, {"private", "key"}}
)

func looksLikeSecret(key string) bool {
	segments := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, seg := range segments {
		if secretLikeSegments[seg] {
			return true
		}
		if i == 0 {
			continue
		}
		for _, pair := range secretLikePairs {
			if segments[i-1] == pair[0] && seg == pair[1] {
				return true
			}
		}
	}
	return false
}

// ModelChecker reports whether some adapter can serve a provider/model pair.
type ModelChecker interface {
	CheckModel(kind core.ProviderKind, modelID string) error
}

// Spec is the mutable part of an endpoint.
type Spec struct {
	ProviderKind  core.ProviderKind `json:"provider"`
	ModelID       string            `json:"model"`
	CredentialRef string            `json:"credential_id"`
	Options       core.Options      `json:"options,omitempty"`
}

// Config configures a Registry.
type Config struct {
	Checker ModelChecker
	// ValidateOptions checks option values understood by other components.
	ValidateOptions func(core.Options) error
}

// Registry is the endpoint registry. Every mutation runs under the snapshot
// holder's writer lock and becomes visible to all later Resolve calls at once.
type Registry struct {
	holder   *snapshot.Holder
	store    store.Store
	checker  ModelChecker
	validate func(core.Options) error
	now      func() time.Time
}

// New creates a registry publishing into holder and persisting into st.
func New(holder *snapshot.Holder, st store.Store, cfg Config) *Registry {
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Registry{
		holder:   holder,
		store:    st,
		checker:  cfg.Checker,
		validate: cfg.ValidateOptions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a new endpoint.
func (r *Registry) Create(ctx context.Context, name string, spec Spec) (core.Endpoint, error) {
	if err := validateName(name); err != nil {
		return core.Endpoint{}, err
	}
	if err := r.validateSpec(spec); err != nil {
		return core.Endpoint{}, err
	}

	now := r.now()
	ep := core.Endpoint{
		Name:          name,
		ProviderKind:  spec.ProviderKind,
		ModelID:       spec.ModelID,
		CredentialRef: spec.CredentialRef,
		Options:       spec.Options.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := r.holder.Update(func(d *snapshot.Draft) error {
		if _, exists := d.Endpoint(name); exists {
			return core.NewAlreadyExistsError(fmt.Sprintf("endpoint %q already exists", name))
		}
		if err := checkCredential(d, spec); err != nil {
			return err
		}
		if err := r.store.PutEndpoint(ctx, ep); err != nil {
			return core.NewInternalError("failed to persist endpoint", err)
		}
		d.PutEndpoint(ep)
		return nil
	})
	if err != nil {
		return core.Endpoint{}, err
	}

	slog.Info("endpoint created", "endpoint", name, "provider", spec.ProviderKind, "model", spec.ModelID)
	return ep, nil
}

// Update replaces every mutable field of an existing endpoint at once.
func (r *Registry) Update(ctx context.Context, name string, spec Spec) (core.Endpoint, error) {
	if err := r.validateSpec(spec); err != nil {
		return core.Endpoint{}, err
	}

	var updated core.Endpoint
	_, err := r.holder.Update(func(d *snapshot.Draft) error {
		existing, ok := d.Endpoint(name)
		if !ok {
			return core.NewNotFoundError(fmt.Sprintf("endpoint %q not found", name))
		}
		if err := checkCredential(d, spec); err != nil {
			return err
		}
		updated = core.Endpoint{
			Name:          name,
			ProviderKind:  spec.ProviderKind,
			ModelID:       spec.ModelID,
			CredentialRef: spec.CredentialRef,
			Options:       spec.Options.Clone(),
			CreatedAt:     existing.CreatedAt,
			UpdatedAt:     r.now(),
		}
		if err := r.store.PutEndpoint(ctx, updated); err != nil {
			return core.NewInternalError("failed to persist endpoint", err)
		}
		d.PutEndpoint(updated)
		return nil
	})
	if err != nil {
		return core.Endpoint{}, err
	}

	slog.Info("endpoint updated", "endpoint", name, "provider", spec.ProviderKind, "model", spec.ModelID)
	return updated, nil
}

// Delete removes an endpoint.
func (r *Registry) Delete(ctx context.Context, name string) error {
	_, err := r.holder.Update(func(d *snapshot.Draft) error {
		if _, ok := d.Endpoint(name); !ok {
			return core.NewNotFoundError(fmt.Sprintf("endpoint %q not found", name))
		}
		if err := r.store.DeleteEndpoint(ctx, name); err != nil {
			return core.NewInternalError("failed to delete endpoint", err)
		}
		d.DeleteEndpoint(name)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("endpoint deleted", "endpoint", name)
	return nil
}

// Resolve returns the endpoint as of the latest committed snapshot.
func (r *Registry) Resolve(name string) (core.Endpoint, error) {
	return ResolveIn(r.holder.Current(), name)
}

// ResolveIn looks an endpoint up in a captured snapshot.
func ResolveIn(s *snapshot.Snapshot, name string) (core.Endpoint, error) {
	ep, ok := s.Endpoint(name)
	if !ok {
		return core.Endpoint{}, core.NewEndpointNotFoundError(name)
	}
	ep.Options = ep.Options.Clone()
	return ep, nil
}

// List returns every endpoint sorted by name.
func (r *Registry) List() []core.Endpoint {
	return r.holder.Current().Endpoints()
}

func validateName(name string) error {
	if !validName.MatchString(name) {
		return core.NewInvalidArgumentError(
			fmt.Sprintf("invalid endpoint name %q: use letters, digits, '.', '_' or '-'", name), nil)
	}
	if reservedNames[strings.ToLower(name)] {
		return core.NewInvalidArgumentError(fmt.Sprintf("endpoint name %q is reserved", name), nil)
	}
	return nil
}

func (r *Registry) validateSpec(spec Spec) error {
	if spec.ProviderKind == "" {
		return core.NewInvalidArgumentError("provider is required", nil)
	}
	if spec.ModelID == "" {
		return core.NewInvalidArgumentError("model is required", nil)
	}
	if spec.CredentialRef == "" {
		return core.NewInvalidArgumentError("credential_id is required", nil)
	}
	for key := range spec.Options {
		if looksLikeSecret(key) {
			return core.NewInvalidArgumentError(fmt.Sprintf(
				"option %q looks like a credential; store secrets in the vault and reference them by credential_id", key), nil)
		}
	}
	if r.validate != nil {
		if err := r.validate(spec.Options); err != nil {
			return core.NewInvalidArgumentError(err.Error(), err)
		}
	}
	if r.checker != nil {
		if err := r.checker.CheckModel(spec.ProviderKind, spec.ModelID); err != nil {
			return err
		}
	}
	return nil
}

func checkCredential(d *snapshot.Draft, spec Spec) error {
	cred, ok := d.Credential(spec.CredentialRef)
	if !ok {
		return core.NewNotFoundError(fmt.Sprintf("credential %q not found", spec.CredentialRef))
	}
	if cred.ProviderKind != spec.ProviderKind {
		return core.NewInvalidArgumentError(fmt.Sprintf(
			"credential %q belongs to provider %q, endpoint uses %q",
			spec.CredentialRef, cred.ProviderKind, spec.ProviderKind), nil)
	}
	return nil
}
