package snapshot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
)

func TestHolder_UpdatePublishesNewVersion(t *testing.T) {
	h := NewHolder()
	before := h.Current()
	require.Equal(t, uint64(0), before.Version())

	next, err := h.Update(func(d *Draft) error {
		d.PutEndpoint(core.Endpoint{Name: "a", ProviderKind: core.ProviderOpenAI, ModelID: "m"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Version())
	assert.Same(t, next, h.Current())

	_, ok := before.Endpoint("a")
	assert.False(t, ok, "old snapshot must not observe the mutation")
	_, ok = next.Endpoint("a")
	assert.True(t, ok)
}

func TestHolder_FailedUpdateIsInvisible(t *testing.T) {
	h := NewHolder()
	boom := errors.New("boom")

	_, err := h.Update(func(d *Draft) error {
		d.PutEndpoint(core.Endpoint{Name: "half"})
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(0), h.Current().Version())
	_, ok := h.Current().Endpoint("half")
	assert.False(t, ok)
}

func TestHolder_ReloadBlocksWriters(t *testing.T) {
	h := NewHolder()
	inLoad := make(chan struct{})
	release := make(chan struct{})
	reloaded := make(chan *Snapshot, 1)
	go func() {
		s, err := h.Reload(func(base *Snapshot) ([]core.Endpoint, []core.Credential, error) {
			close(inLoad)
			<-release
			return []core.Endpoint{{Name: "stored"}}, nil, nil
		})
		assert.NoError(t, err)
		reloaded <- s
	}()
	<-inLoad

	updated := make(chan struct{})
	go func() {
		_, err := h.Update(func(d *Draft) error {
			d.PutEndpoint(core.Endpoint{Name: "written"})
			return nil
		})
		assert.NoError(t, err)
		close(updated)
	}()

	select {
	case <-updated:
		t.Fatal("update committed while a reload held the writer lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-reloaded
	<-updated

	cur := h.Current()
	assert.Equal(t, uint64(2), cur.Version())
	_, ok := cur.Endpoint("stored")
	assert.True(t, ok)
	_, ok = cur.Endpoint("written")
	assert.True(t, ok)
}

func TestHolder_FailedReloadKeepsCurrent(t *testing.T) {
	h := NewHolder()
	boom := errors.New("boom")
	s, err := h.Reload(func(*Snapshot) ([]core.Endpoint, []core.Credential, error) {
		return nil, nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Same(t, h.Current(), s)
	assert.Equal(t, uint64(0), s.Version())
}

func TestHolder_OnCommitRunsAfterPublish(t *testing.T) {
	h := NewHolder()
	var seen []uint64
	h.OnCommit(func(s *Snapshot) {
		assert.Same(t, s, h.Current())
		seen = append(seen, s.Version())
	})

	for i := 0; i < 3; i++ {
		_, err := h.Update(func(d *Draft) error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestSnapshot_DigestTracksContentNotVersion(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ep := core.Endpoint{Name: "chat", ProviderKind: core.ProviderOpenAI, ModelID: "gpt", CredentialRef: "c1",
		Options: core.Options{"strict": true}, CreatedAt: created, UpdatedAt: created}
	cred := core.Credential{ID: "c1", ProviderKind: core.ProviderOpenAI, Secret: []byte("sk-1"), CreatedAt: created}

	a := NewHolder()
	b := NewHolder()
	_, _ = b.Update(func(d *Draft) error { return nil })

	sa := a.Replace([]core.Endpoint{ep}, []core.Credential{cred})
	sb := b.Replace([]core.Endpoint{ep}, []core.Credential{cred})
	assert.NotEqual(t, sa.Version(), sb.Version())
	assert.Equal(t, sa.Digest(), sb.Digest())

	rotated := cred
	rotated.Secret = []byte("sk-2")
	sc := a.Replace([]core.Endpoint{ep}, []core.Credential{rotated})
	assert.NotEqual(t, sa.Digest(), sc.Digest())
}

func TestSnapshot_DefaultCredentialPrefersNewest(t *testing.T) {
	h := NewHolder()
	older := time.Now().Add(-time.Hour)
	s := h.Replace(nil, []core.Credential{
		{ID: "old", ProviderKind: core.ProviderAnthropic, Metadata: map[string]string{core.MetadataDefault: "true"}, CreatedAt: older},
		{ID: "new", ProviderKind: core.ProviderAnthropic, Metadata: map[string]string{core.MetadataDefault: "true"}, CreatedAt: time.Now()},
		{ID: "plain", ProviderKind: core.ProviderAnthropic, CreatedAt: time.Now().Add(time.Hour)},
	})

	c, ok := s.DefaultCredential(core.ProviderAnthropic)
	require.True(t, ok)
	assert.Equal(t, "new", c.ID)

	_, ok = s.DefaultCredential(core.ProviderOpenAI)
	assert.False(t, ok)
}

func TestHolder_ReadersNeverSeePartialUpdates(t *testing.T) {
	h := NewHolder()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := h.Current()
				_, hasA := s.Endpoint("pair-a")
				_, hasB := s.Endpoint("pair-b")
				if hasA != hasB {
					t.Errorf("version %d exposes half of a paired update", s.Version())
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		_, err := h.Update(func(d *Draft) error {
			if _, ok := d.Endpoint("pair-a"); ok {
				d.DeleteEndpoint("pair-a")
				d.DeleteEndpoint("pair-b")
				return nil
			}
			d.PutEndpoint(core.Endpoint{Name: "pair-a"})
			d.PutEndpoint(core.Endpoint{Name: "pair-b"})
			return nil
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
