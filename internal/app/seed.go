package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"strings"

	"aigateway/config"
	"aigateway/internal/core"
	"aigateway/internal/endpoints"
	"aigateway/internal/providers"
	"aigateway/internal/vault"
)

// metadataSeed records which config entry a credential came from, so a
// restart finds it again instead of creating a duplicate.
const metadataSeed = "seed"

// seedDefaults installs provider-wide default credentials from the environment.
func seedDefaults(v *vault.Vault, set *providers.Set, getenv func(string) string) []core.ProviderKind {
	var seeded []core.ProviderKind
	for _, dc := range providers.DiscoverDefaultCredentials(getenv) {
		if !set.KnownKind(dc.Kind) {
			continue
		}
		if _, err := v.SeedDefault(dc.Kind, dc.Secret, dc.Metadata); err != nil {
			slog.Warn("skipping default credential", "provider", dc.Kind, "error", err)
			continue
		}
		seeded = append(seeded, dc.Kind)
	}
	return seeded
}

// seedConfig applies the credentials and endpoints declared in the config
// file. Running it twice against the same state changes nothing.
func seedConfig(ctx context.Context, v *vault.Vault, r *endpoints.Registry, creds []config.CredentialSeed, eps []config.EndpointSeed) error {
	ids := make(map[string]string, len(creds))
	for _, seed := range creds {
		if seed.Secret == "" || strings.Contains(seed.Secret, "${") {
			slog.Warn("skipping credential seed: secret is empty or unresolved", "seed", seed.Name)
			continue
		}
		id, err := seedCredential(ctx, v, seed)
		if err != nil {
			return fmt.Errorf("seed credential %q: %w", seed.Name, err)
		}
		ids[seed.Name] = id
	}

	for _, seed := range eps {
		kind := core.ProviderKind(seed.Provider)
		credID, ok := ids[seed.Credential]
		if seed.Credential == "" {
			cred, err := v.Default(kind)
			if err != nil {
				slog.Warn("skipping endpoint seed: no default credential", "endpoint", seed.Name, "provider", kind)
				continue
			}
			credID, ok = cred.ID, true
		}
		if !ok {
			slog.Warn("skipping endpoint seed: credential was not seeded", "endpoint", seed.Name, "credential", seed.Credential)
			continue
		}
		spec := endpoints.Spec{
			ProviderKind:  kind,
			ModelID:       seed.Model,
			CredentialRef: credID,
			Options:       core.Options(seed.Options),
		}
		if err := seedEndpoint(ctx, r, seed.Name, spec); err != nil {
			return fmt.Errorf("seed endpoint %q: %w", seed.Name, err)
		}
	}
	return nil
}

func seedCredential(ctx context.Context, v *vault.Vault, seed config.CredentialSeed) (string, error) {
	kind := core.ProviderKind(seed.Provider)
	secret := []byte(seed.Secret)

	var id string
	for _, info := range v.List() {
		if info.ProviderKind == kind && info.Metadata[metadataSeed] == seed.Name {
			id = info.ID
			break
		}
	}

	if id == "" {
		md := maps.Clone(seed.Metadata)
		if md == nil {
			md = make(map[string]string)
		}
		md[metadataSeed] = seed.Name
		var err error
		if id, err = v.Put(ctx, kind, secret, md); err != nil {
			return "", err
		}
		slog.Info("credential seeded", "seed", seed.Name, "provider", kind, "credential_id", id)
	} else if cur, err := v.Get(id); err == nil && !bytes.Equal(cur.Secret, secret) {
		if err := v.Rotate(ctx, id, secret); err != nil {
			return "", err
		}
		slog.Info("credential seed rotated", "seed", seed.Name, "credential_id", id)
	}

	if seed.Default {
		info, err := v.Info(id)
		if err != nil {
			return "", err
		}
		if info.Metadata[core.MetadataDefault] != "true" {
			if err := v.SetDefault(ctx, id); err != nil {
				return "", err
			}
		}
	}
	return id, nil
}

func seedEndpoint(ctx context.Context, r *endpoints.Registry, name string, spec endpoints.Spec) error {
	cur, err := r.Resolve(name)
	if errors.Is(err, core.ErrEndpointNotFound) {
		_, err = r.Create(ctx, name, spec)
		if err == nil {
			slog.Info("endpoint seeded", "endpoint", name, "provider", spec.ProviderKind, "model", spec.ModelID)
		}
		return err
	}
	if err != nil {
		return err
	}
	if cur.ProviderKind == spec.ProviderKind && cur.ModelID == spec.ModelID &&
		cur.CredentialRef == spec.CredentialRef && optionsEqual(cur.Options, spec.Options) {
		return nil
	}
	_, err = r.Update(ctx, name, spec)
	return err
}

func optionsEqual(a, b core.Options) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
