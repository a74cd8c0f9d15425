package vault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
	"aigateway/internal/snapshot"
	"aigateway/internal/store"
)

// pausingStore reads its state, then blocks Load until release is closed.
type pausingStore struct {
	*store.MemoryStore
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingStore) Load(ctx context.Context) (*store.State, error) {
	state, err := p.MemoryStore.Load(ctx)
	close(p.loaded)
	<-p.release
	return state, err
}

type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) PutCredential(context.Context, store.CredentialRecord) error {
	return errors.New("disk full")
}

func newTestVault(t *testing.T, sealer *Sealer) (*Vault, *snapshot.Holder, *store.MemoryStore) {
	t.Helper()
	holder := snapshot.NewHolder()
	st := store.NewMemoryStore()
	return New(holder, st, Config{Sealer: sealer}), holder, st
}

func TestVault_PutGetList(t *testing.T) {
	v, _, _ := newTestVault(t, nil)
	ctx := context.Background()

	id, err := v.Put(ctx, core.ProviderOpenAI, []byte("sk-test"), map[string]string{"team": "a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c, err := v.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-test"), c.Secret)
	assert.Equal(t, core.ProviderOpenAI, c.ProviderKind)

	list := v.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "a", list[0].Metadata["team"])
}

func TestVault_GetMissing(t *testing.T) {
	v, _, _ := newTestVault(t, nil)
	_, err := v.Get("nope")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestVault_PutValidation(t *testing.T) {
	holder := snapshot.NewHolder()
	v := New(holder, nil, Config{KnownKind: func(k core.ProviderKind) bool { return k == core.ProviderOpenAI }})
	ctx := context.Background()

	_, err := v.Put(ctx, "", []byte("x"), nil)
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))

	_, err = v.Put(ctx, core.ProviderOpenAI, nil, nil)
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))

	_, err = v.Put(ctx, "carrier-pigeon", []byte("x"), nil)
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
}

func TestVault_SecretNeverInListOrJSON(t *testing.T) {
	v, _, _ := newTestVault(t, nil)
	id, err := v.Put(context.Background(), core.ProviderAnthropic, []byte("sk-ant-supersecret"), nil)
	require.NoError(t, err)

	c, err := v.Get(id)
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%v %+v %s", c, c, c), "supersecret")

	info, err := v.Info(id)
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%+v", info), "supersecret")
}

func TestVault_DeleteReferencedConflicts(t *testing.T) {
	v, holder, _ := newTestVault(t, nil)
	ctx := context.Background()

	id, err := v.Put(ctx, core.ProviderOpenAI, []byte("sk-test"), nil)
	require.NoError(t, err)

	_, err = holder.Update(func(d *snapshot.Draft) error {
		d.PutEndpoint(core.Endpoint{Name: "my-chat", ProviderKind: core.ProviderOpenAI, CredentialRef: id})
		return nil
	})
	require.NoError(t, err)

	err = v.Delete(ctx, id)
	require.ErrorIs(t, err, core.ErrConflict)
	assert.Contains(t, err.Error(), "my-chat")

	_, err = holder.Update(func(d *snapshot.Draft) error {
		d.DeleteEndpoint("my-chat")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, v.Delete(ctx, id))
	_, err = v.Get(id)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.ErrorIs(t, v.Delete(ctx, id), core.ErrNotFound)
}

func TestVault_PersistFailureLeavesSnapshotUntouched(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)
	holder := snapshot.NewHolder()
	v := New(holder, failingStore{store.NewMemoryStore()}, Config{Sealer: sealer})

	_, err = v.Put(context.Background(), core.ProviderOpenAI, []byte("sk"), nil)
	require.Error(t, err)
	assert.Empty(t, v.List())
	assert.Equal(t, uint64(0), holder.Current().Version())
}

func TestVault_PersistsSealedAndReloads(t *testing.T) {
	sealer, err := NewSealer("passphrase")
	require.NoError(t, err)
	v, _, st := newTestVault(t, sealer)
	ctx := context.Background()

	id, err := v.Put(ctx, core.ProviderOpenAI, []byte("sk-persist"), nil)
	require.NoError(t, err)
	require.NoError(t, st.PutEndpoint(ctx, core.Endpoint{Name: "e", ProviderKind: core.ProviderOpenAI, CredentialRef: id}))
	require.NoError(t, st.PutEndpoint(ctx, core.Endpoint{Name: "dangling", ProviderKind: core.ProviderOpenAI, CredentialRef: "gone"}))

	state, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, state.Credentials, 1)
	assert.NotContains(t, string(state.Credentials[0].Sealed), "sk-persist")

	// a fresh instance over the same store
	fresh := New(snapshot.NewHolder(), st, Config{Sealer: sealer})
	snap, err := fresh.Reload(ctx)
	require.NoError(t, err)

	c, err := fresh.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-persist"), c.Secret)
	_, ok := snap.Endpoint("e")
	assert.True(t, ok)
	_, ok = snap.Endpoint("dangling")
	assert.False(t, ok)
}

func TestVault_ReloadWithWrongKeySkipsCredentials(t *testing.T) {
	good, _ := NewSealer("right")
	bad, _ := NewSealer("wrong")
	v, _, st := newTestVault(t, good)
	_, err := v.Put(context.Background(), core.ProviderOpenAI, []byte("sk"), nil)
	require.NoError(t, err)

	other := New(snapshot.NewHolder(), st, Config{Sealer: bad})
	_, err = other.Reload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, other.List())
}

func TestVault_ReloadDoesNotRevertConcurrentPut(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)
	st := &pausingStore{
		MemoryStore: store.NewMemoryStore(),
		loaded:      make(chan struct{}),
		release:     make(chan struct{}),
	}
	v := New(snapshot.NewHolder(), st, Config{Sealer: sealer})
	ctx := context.Background()

	reloaded := make(chan error, 1)
	go func() {
		_, err := v.Reload(ctx)
		reloaded <- err
	}()
	<-st.loaded

	type putResult struct {
		id  string
		err error
	}
	put := make(chan putResult, 1)
	go func() {
		id, err := v.Put(ctx, core.ProviderOpenAI, []byte("sk-late"), nil)
		put <- putResult{id, err}
	}()

	close(st.release)
	require.NoError(t, <-reloaded)
	res := <-put
	require.NoError(t, res.err)

	c, err := v.Get(res.id)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-late"), c.Secret)
}

func TestVault_ReloadWithoutKeyKeepsInMemoryState(t *testing.T) {
	v, holder, st := newTestVault(t, nil)
	ctx := context.Background()

	id, err := v.Put(ctx, core.ProviderOpenAI, []byte("sk-mem"), nil)
	require.NoError(t, err)
	require.NoError(t, st.PutEndpoint(ctx, core.Endpoint{Name: "chat", ProviderKind: core.ProviderOpenAI, CredentialRef: id}))
	_, err = holder.Update(func(d *snapshot.Draft) error {
		d.PutEndpoint(core.Endpoint{Name: "chat", ProviderKind: core.ProviderOpenAI, CredentialRef: id})
		return nil
	})
	require.NoError(t, err)

	snap, err := v.Reload(ctx)
	require.NoError(t, err)

	c, err := v.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-mem"), c.Secret)
	_, ok := snap.Endpoint("chat")
	assert.True(t, ok)
}

func TestVault_DefaultsAndRotation(t *testing.T) {
	v, _, _ := newTestVault(t, nil)
	ctx := context.Background()

	envID, err := v.SeedDefault(core.ProviderAnthropic, []byte("sk-ant-env"), nil)
	require.NoError(t, err)
	c, err := v.Default(core.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, envID, c.ID)

	id, err := v.Put(ctx, core.ProviderAnthropic, []byte("sk-ant-admin"), nil)
	require.NoError(t, err)
	require.NoError(t, v.SetDefault(ctx, id))

	c, err = v.Default(core.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	env, err := v.Get(envID)
	require.NoError(t, err)
	assert.False(t, env.IsDefault())

	require.NoError(t, v.Rotate(ctx, id, []byte("sk-ant-rotated")))
	c, err = v.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-ant-rotated"), c.Secret)

	_, err = v.Default(core.ProviderGemini)
	require.ErrorIs(t, err, core.ErrCredentialMissing)
}

func TestSealer_BindsCredentialID(t *testing.T) {
	s, err := NewSealer("key")
	require.NoError(t, err)

	sealed, err := s.Seal("a", []byte("secret"))
	require.NoError(t, err)

	plain, err := s.Open("a", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)

	_, err = s.Open("b", sealed)
	require.ErrorIs(t, err, ErrSealedSecretCorrupt)

	_, err = s.Open("a", sealed[:3])
	require.ErrorIs(t, err, ErrSealedSecretCorrupt)

	_, err = NewSealer("")
	require.Error(t, err)
}
