// Package vault stores provider credentials. Secret material is handed only to
// adapters through the routing snapshot; no vault operation returns it to
// administrative callers or writes it to a log.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/core"
	"aigateway/internal/snapshot"
	"aigateway/internal/store"
)

// Config configures a Vault.
type Config struct {
	// Sealer encrypts secrets for persistence. When nil, credentials are kept
	// in memory only and never written to the store.
	Sealer *Sealer

	// KnownKind reports whether a provider kind has an adapter. Nil accepts any kind.
	KnownKind func(core.ProviderKind) bool
}

// Vault is the credential vault.
type Vault struct {
	holder    *snapshot.Holder
	store     store.Store
	sealer    *Sealer
	knownKind func(core.ProviderKind) bool
	now       func() time.Time
	newID     func() string
}

// New creates a vault publishing into holder and persisting into st.
func New(holder *snapshot.Holder, st store.Store, cfg Config) *Vault {
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Vault{
		holder:    holder,
		store:     st,
		sealer:    cfg.Sealer,
		knownKind: cfg.KnownKind,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Persistent reports whether credentials survive a restart.
func (v *Vault) Persistent() bool {
	return v.sealer != nil
}

// Put stores a new credential and returns its id.
func (v *Vault) Put(ctx context.Context, kind core.ProviderKind, secret []byte, metadata map[string]string) (string, error) {
	if err := v.validate(kind, secret); err != nil {
		return "", err
	}

	cred := core.Credential{
		ID:           v.newID(),
		ProviderKind: kind,
		Secret:       append([]byte(nil), secret...),
		Metadata:     copyMetadata(metadata),
		CreatedAt:    v.now(),
	}

	_, err := v.holder.Update(func(d *snapshot.Draft) error {
		if err := v.persist(ctx, cred); err != nil {
			return err
		}
		d.PutCredential(cred)
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("credential stored", "credential_id", cred.ID, "provider", kind, "persistent", v.Persistent())
	return cred.ID, nil
}

// Get returns the credential, including its secret, for adapter use.
func (v *Vault) Get(id string) (core.Credential, error) {
	c, ok := v.holder.Current().Credential(id)
	if !ok {
		return core.Credential{}, core.NewNotFoundError(fmt.Sprintf("credential %q not found", id))
	}
	return c, nil
}

// Info returns the secret-free view of one credential.
func (v *Vault) Info(id string) (core.CredentialInfo, error) {
	c, err := v.Get(id)
	if err != nil {
		return core.CredentialInfo{}, err
	}
	return c.Info(), nil
}

// List returns every credential without secrets, sorted by id.
func (v *Vault) List() []core.CredentialInfo {
	creds := v.holder.Current().Credentials()
	out := make([]core.CredentialInfo, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Info())
	}
	return out
}

// Delete removes a credential. It fails with Conflict while any endpoint
// references it; the reference check and the removal happen under the same
// writer lock, so no endpoint can start referencing it in between.
func (v *Vault) Delete(ctx context.Context, id string) error {
	_, err := v.holder.Update(func(d *snapshot.Draft) error {
		if _, ok := d.Credential(id); !ok {
			return core.NewNotFoundError(fmt.Sprintf("credential %q not found", id))
		}
		if refs := d.References(id); len(refs) > 0 {
			return core.NewConflictError(fmt.Sprintf(
				"credential %q is referenced by endpoints: %s", id, strings.Join(refs, ", ")))
		}
		if err := v.store.DeleteCredential(ctx, id); err != nil {
			return core.NewInternalError("failed to delete credential", err)
		}
		d.DeleteCredential(id)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("credential deleted", "credential_id", id)
	return nil
}

// Rotate replaces the secret of an existing credential. Requests that already
// captured a snapshot keep using the old secret.
func (v *Vault) Rotate(ctx context.Context, id string, secret []byte) error {
	_, err := v.holder.Update(func(d *snapshot.Draft) error {
		c, ok := d.Credential(id)
		if !ok {
			return core.NewNotFoundError(fmt.Sprintf("credential %q not found", id))
		}
		if err := v.validate(c.ProviderKind, secret); err != nil {
			return err
		}
		c.Secret = append([]byte(nil), secret...)
		c.Metadata = copyMetadata(c.Metadata)
		if err := v.persist(ctx, c); err != nil {
			return err
		}
		d.PutCredential(c)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("credential rotated", "credential_id", id)
	return nil
}

// SetDefault marks a credential as the provider-wide default for its kind and
// clears the flag on every other credential of that kind.
func (v *Vault) SetDefault(ctx context.Context, id string) error {
	_, err := v.holder.Update(func(d *snapshot.Draft) error {
		target, ok := d.Credential(id)
		if !ok {
			return core.NewNotFoundError(fmt.Sprintf("credential %q not found", id))
		}
		for _, c := range d.Credentials() {
			if c.ProviderKind != target.ProviderKind {
				continue
			}
			isTarget := c.ID == id
			if c.IsDefault() == isTarget {
				continue
			}
			c.Metadata = copyMetadata(c.Metadata)
			if isTarget {
				c.Metadata[core.MetadataDefault] = "true"
			} else {
				delete(c.Metadata, core.MetadataDefault)
			}
			if err := v.persist(ctx, c); err != nil {
				return err
			}
			d.PutCredential(c)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("default credential set", "credential_id", id)
	return nil
}

// Default returns the provider-wide default credential for kind.
func (v *Vault) Default(kind core.ProviderKind) (core.Credential, error) {
	c, ok := v.holder.Current().DefaultCredential(kind)
	if !ok {
		return core.Credential{}, core.NewCredentialMissingError(
			fmt.Sprintf("no default credential configured for provider %q", kind))
	}
	return c, nil
}

// Reload rebuilds the snapshot from the backing store. Credentials that cannot
// be unsealed and endpoints whose credential is unavailable are skipped with
// a warning rather than failing startup. The store is read under the
// snapshot's writer lock, so a concurrent Put or Rotate is never reverted.
func (v *Vault) Reload(ctx context.Context) (*snapshot.Snapshot, error) {
	var nEndpoints, nCreds int
	snap, err := v.holder.Reload(func(base *snapshot.Snapshot) ([]core.Endpoint, []core.Credential, error) {
		state, err := v.store.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load routing state: %w", err)
		}

		creds := make([]core.Credential, 0, len(state.Credentials))
		ids := make(map[string]bool, len(state.Credentials))
		for _, rec := range state.Credentials {
			if v.sealer == nil {
				slog.Warn("skipping stored credential: no encryption key configured", "credential_id", rec.ID)
				continue
			}
			secret, err := v.sealer.Open(rec.ID, rec.Sealed)
			if err != nil {
				slog.Warn("skipping stored credential", "credential_id", rec.ID, "error", err)
				continue
			}
			creds = append(creds, core.Credential{
				ID:           rec.ID,
				ProviderKind: rec.ProviderKind,
				Secret:       secret,
				Metadata:     copyMetadata(rec.Metadata),
				CreatedAt:    rec.CreatedAt,
			})
			ids[rec.ID] = true
		}

		// Credentials held only in memory survive a reload of this instance:
		// env-seeded ones always, and without a key every credential, since
		// none of them could have been written to the store.
		for _, c := range base.Credentials() {
			if ids[c.ID] {
				continue
			}
			if v.sealer == nil || c.Metadata[core.MetadataSource] == SourceEnv {
				creds = append(creds, c)
				ids[c.ID] = true
			}
		}

		endpoints := make([]core.Endpoint, 0, len(state.Endpoints))
		for _, ep := range state.Endpoints {
			if !ids[ep.CredentialRef] {
				slog.Warn("skipping stored endpoint: credential unavailable",
					"endpoint", ep.Name, "credential_id", ep.CredentialRef)
				continue
			}
			endpoints = append(endpoints, ep)
		}
		nEndpoints, nCreds = len(endpoints), len(creds)
		return endpoints, creds, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("routing state loaded",
		"version", snap.Version(),
		"endpoints", nEndpoints,
		"credentials", nCreds,
	)
	return snap, nil
}

// SourceEnv marks credentials seeded from environment variables.
const SourceEnv = "env"

// SeedDefault installs an in-memory provider-wide default credential, as read
// from the environment at startup. It is never persisted, and an existing
// env-seeded default for the same kind is replaced.
func (v *Vault) SeedDefault(kind core.ProviderKind, secret []byte, metadata map[string]string) (string, error) {
	if err := v.validate(kind, secret); err != nil {
		return "", err
	}
	md := copyMetadata(metadata)
	md[core.MetadataDefault] = "true"
	md[core.MetadataSource] = SourceEnv

	id := "env-" + string(kind)
	_, err := v.holder.Update(func(d *snapshot.Draft) error {
		d.PutCredential(core.Credential{
			ID:           id,
			ProviderKind: kind,
			Secret:       append([]byte(nil), secret...),
			Metadata:     md,
			CreatedAt:    v.now(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (v *Vault) validate(kind core.ProviderKind, secret []byte) error {
	if kind == "" {
		return core.NewInvalidArgumentError("provider is required", nil)
	}
	if v.knownKind != nil && !v.knownKind(kind) {
		return core.NewInvalidArgumentError(fmt.Sprintf("unknown provider %q", kind), nil)
	}
	if len(secret) == 0 {
		return core.NewInvalidArgumentError("secret is required", nil)
	}
	return nil
}

// persist writes the sealed credential. Without a sealer nothing is written,
// and env-seeded credentials are never written.
func (v *Vault) persist(ctx context.Context, c core.Credential) error {
	if v.sealer == nil || c.Metadata[core.MetadataSource] == SourceEnv {
		return nil
	}
	sealed, err := v.sealer.Seal(c.ID, c.Secret)
	if err != nil {
		return core.NewInternalError("failed to seal credential", err)
	}
	rec := store.CredentialRecord{
		ID:           c.ID,
		ProviderKind: c.ProviderKind,
		Sealed:       sealed,
		Metadata:     c.Metadata,
		CreatedAt:    c.CreatedAt,
	}
	if err := v.store.PutCredential(ctx, rec); err != nil {
		return core.NewInternalError("failed to persist credential", err)
	}
	return nil
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
