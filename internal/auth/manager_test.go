package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

func newTestManager(t *testing.T, now time.Time) *Manager {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := NewManager(store, ManagerConfig{Now: func() time.Time { return now }})
	require.NoError(t, err)
	return mgr
}

func TestDiscoveredProfileID_StableAcrossRediscovery(t *testing.T) {
	id1 := DiscoveredProfileID(models.AuthSourceKeychain, models.AuthProviderAnthropic, "User@Example.com")
	id2 := DiscoveredProfileID(models.AuthSourceKeychain, models.AuthProviderAnthropic, "user@example.com")
	require.Equal(t, id1, id2, "identity comparison must be case-insensitive")

	id3 := DiscoveredProfileID(models.AuthSourceKeychain, models.AuthProviderOpenAI, "user@example.com")
	require.NotEqual(t, id1, id3, "different provider must yield a different id")
}

func TestDiscover_IsIdempotent(t *testing.T) {
	now := time.Now()
	mgr := newTestManager(t, now)

	p1, err := mgr.Discover(models.AuthSourceKeychain, models.AuthProviderAnthropic, "prod", "user@example.com", models.CredentialRef{Ref: "secret-ref-1"}, 10)
	require.NoError(t, err)

	p2, err := mgr.Discover(models.AuthSourceKeychain, models.AuthProviderAnthropic, "prod", "user@example.com", models.CredentialRef{Ref: "secret-ref-2"}, 10)
	require.NoError(t, err)

	require.Equal(t, p1.ID, p2.ID)
	require.Equal(t, "secret-ref-2", p2.Credential.Ref, "rediscovery updates the credential reference")
}

func TestSelectProfile_PicksLowestPriorityThenMostRecentlyUsed(t *testing.T) {
	now := time.Now()
	mgr := newTestManager(t, now)

	low, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderAnthropic, "low-priority", "", models.CredentialRef{Ref: "a"}, 10)
	require.NoError(t, err)
	high, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderAnthropic, "high-priority", "", models.CredentialRef{Ref: "b"}, 1)
	require.NoError(t, err)
	_ = low

	selected, err := mgr.SelectProfile(context.Background(), models.AuthProviderAnthropic, nil)
	require.NoError(t, err)
	require.Equal(t, high.ID, selected.ID, "lower priority value wins")
}

func TestSelectProfile_ExcludesCooldownAndDisabled(t *testing.T) {
	now := time.Now()
	mgr := newTestManager(t, now)

	p, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderAnthropic, "only-profile", "", models.CredentialRef{Ref: "a"}, 1)
	require.NoError(t, err)

	require.NoError(t, mgr.MarkFailure(p.ID))

	_, err = mgr.SelectProfile(context.Background(), models.AuthProviderAnthropic, nil)
	require.ErrorIs(t, err, ErrNoAvailableProfile)
}

func TestMarkFailure_DisablesAfterMaxFailures(t *testing.T) {
	now := time.Now()
	store, err := kv.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	mgr, err := NewManager(store, ManagerConfig{Now: func() time.Time { return now }, MaxFailures: 3})
	require.NoError(t, err)

	p, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderAnthropic, "flaky", "", models.CredentialRef{Ref: "a"}, 1)
	require.NoError(t, err)

	require.NoError(t, mgr.MarkFailure(p.ID))
	require.NoError(t, mgr.MarkFailure(p.ID))
	require.NoError(t, mgr.MarkFailure(p.ID))

	got, err := mgr.Get(p.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Equal(t, models.AuthHealthDisabled, got.Health)
}

func TestMarkSuccess_ClearsFailureStateAndCooldown(t *testing.T) {
	now := time.Now()
	mgr := newTestManager(t, now)

	p, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderAnthropic, "recovering", "", models.CredentialRef{Ref: "a"}, 1)
	require.NoError(t, err)

	require.NoError(t, mgr.MarkFailure(p.ID))
	require.NoError(t, mgr.MarkSuccess(p.ID))

	got, err := mgr.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.FailureCount)
	require.Equal(t, models.AuthHealthHealthy, got.Health)
	require.Nil(t, got.CooldownUntil)
	require.NotNil(t, got.LastUsedAt)
}

func TestSelectForModel_WalksCompatibilityChain(t *testing.T) {
	now := time.Now()
	mgr := newTestManager(t, now)

	p, err := mgr.Discover(models.AuthSourceManual, models.AuthProviderClaudeCode, "cc", "", models.CredentialRef{Ref: "a"}, 1)
	require.NoError(t, err)

	selected, err := mgr.SelectForModel(context.Background(), models.AuthProviderAnthropic, nil)
	require.NoError(t, err)
	require.Equal(t, p.ID, selected.ID)
}
