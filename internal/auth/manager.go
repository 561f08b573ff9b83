// Package auth implements the Auth Profile Manager: discovery of
// credentials from multiple sources with deterministic ids, priority/health
// aware selection per provider (and per model-provider compatibility
// chain), and exponential-cooldown health tracking. Grounded on the
// teacher's internal/auth ProfileStore (rotation-by-cooldown persistence
// idiom) but rebuilt over internal/kv instead of a single JSON file, since
// RestFlow's domain stack centralizes all durable state in the embedded
// bbolt store.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

const (
	bucketProfiles  = "auth_profiles"
	indexByProvider = "auth_by_provider"
)

// ErrNoAvailableProfile is returned by SelectProfile when no profile for
// the requested provider is currently available (none enabled, none past
// cooldown, none with an unexpired credential).
var ErrNoAvailableProfile = errors.New("auth: no available profile")

// ErrProfileNotFound is returned when a profile id has no record.
var ErrProfileNotFound = errors.New("auth: profile not found")

// OAuthRefresher refreshes an expired OAuth credential, returning the new
// reference to store back on the profile.
type OAuthRefresher interface {
	Refresh(ctx context.Context, profile models.AuthProfile) (models.CredentialRef, error)
	// IsOAuth reports whether profile's credential is an OAuth-style
	// credential this refresher knows how to renew, as opposed to a static
	// API key that refresh can never help.
	IsOAuth(profile models.AuthProfile) bool
}

// ManagerConfig configures cooldown growth and the permanent-disable
// threshold.
type ManagerConfig struct {
	// CooldownBase is the base duration in mark_failure's
	// base * 2^min(count-1, 5) backoff.
	CooldownBase time.Duration
	// MaxFailures is the consecutive-failure count after which a profile is
	// disabled permanently rather than cooled down.
	MaxFailures int
	Now         func() time.Time
}

// DefaultManagerConfig mirrors the teacher's config-with-defaults idiom.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CooldownBase: 30 * time.Second,
		MaxFailures:  6,
	}
}

// Manager is the Auth Profile Manager: discovery, selection, and health
// tracking over a kv-backed profile table.
type Manager struct {
	store      *kv.Store
	cfg        ManagerConfig
	compatible map[models.AuthProvider][]models.AuthProvider
}

// NewManager opens the auth buckets on store and returns a Manager. store
// must already be open; zero-valued fields of cfg fall back to
// DefaultManagerConfig's values.
func NewManager(store *kv.Store, cfg ManagerConfig) (*Manager, error) {
	def := DefaultManagerConfig()
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = def.CooldownBase
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := store.EnsureBuckets(bucketProfiles, indexByProvider); err != nil {
		return nil, err
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		compatible: map[models.AuthProvider][]models.AuthProvider{
			models.AuthProviderAnthropic:   {models.AuthProviderClaudeCode, models.AuthProviderAnthropic},
			models.AuthProviderClaudeCode:  {models.AuthProviderClaudeCode, models.AuthProviderAnthropic},
			models.AuthProviderOpenAI:      {models.AuthProviderOpenAICodex, models.AuthProviderOpenAI},
			models.AuthProviderOpenAICodex: {models.AuthProviderOpenAICodex, models.AuthProviderOpenAI},
		},
	}, nil
}

// DiscoveredProfileID computes the deterministic id for a profile
// discovered from source/provider/identity: sha256 of
// "auth-discovered:<source>:<provider>:<identity>" with identity lowercased
// so repeated discovery of the same credential never creates a second key.
func DiscoveredProfileID(source models.AuthSource, provider models.AuthProvider, identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	sum := sha256.Sum256([]byte(fmt.Sprintf("auth-discovered:%s:%s:%s", source, provider, identity)))
	return hex.EncodeToString(sum[:])
}

// Discover records (or idempotently re-confirms) a profile found at
// source for provider, identified by email if present or name otherwise.
// Re-discovering the same (source, provider, identity) triple always
// yields the same id; an existing profile only has its credential
// refreshed, leaving health/priority/failure-count state untouched.
func (m *Manager) Discover(source models.AuthSource, provider models.AuthProvider, name, email string, cred models.CredentialRef, priority int) (models.AuthProfile, error) {
	identity := email
	if identity == "" {
		identity = name
	}
	id := DiscoveredProfileID(source, provider, identity)
	now := m.cfg.Now()

	var profile models.AuthProfile
	err := m.store.Update(func(tx *bolt.Tx) error {
		var existing models.AuthProfile
		getErr := kv.GetJSON(tx, bucketProfiles, id, &existing)
		switch {
		case getErr == nil:
			existing.Credential = cred
			profile = existing
		case errors.Is(getErr, kv.ErrNotFound):
			profile = models.AuthProfile{
				ID:         id,
				Name:       name,
				Provider:   provider,
				Credential: cred,
				Source:     source,
				Health:     models.AuthHealthHealthy,
				Enabled:    true,
				Priority:   priority,
				CreatedAt:  now,
			}
		default:
			return getErr
		}

		if err := kv.PutJSON(tx, bucketProfiles, id, profile); err != nil {
			return err
		}
		return kv.IndexAdd(tx, indexByProvider, string(provider), id)
	})
	return profile, err
}

// Get looks up a profile by id.
func (m *Manager) Get(id string) (models.AuthProfile, error) {
	var profile models.AuthProfile
	err := m.store.View(func(tx *bolt.Tx) error {
		return kv.GetJSON(tx, bucketProfiles, id, &profile)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return models.AuthProfile{}, ErrProfileNotFound
	}
	return profile, err
}

// ListByProvider returns every profile registered for provider, in no
// particular order.
func (m *Manager) ListByProvider(provider models.AuthProvider) ([]models.AuthProfile, error) {
	var profiles []models.AuthProfile
	err := m.store.View(func(tx *bolt.Tx) error {
		ids, err := kv.IndexMembers(tx, indexByProvider, string(provider))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var p models.AuthProfile
			if err := kv.GetJSON(tx, bucketProfiles, id, &p); err != nil {
				if errors.Is(err, kv.ErrNotFound) {
					continue
				}
				return err
			}
			profiles = append(profiles, p)
		}
		return nil
	})
	return profiles, err
}

// SelectProfile implements select_profile(provider): refresh any
// expired-but-refreshable OAuth profiles for provider, filter to available
// profiles, sort by (priority ascending, last_used descending), and return
// the head. refresher may be nil, in which case expired OAuth profiles are
// simply excluded as unavailable.
func (m *Manager) SelectProfile(ctx context.Context, provider models.AuthProvider, refresher OAuthRefresher) (models.AuthProfile, error) {
	profiles, err := m.ListByProvider(provider)
	if err != nil {
		return models.AuthProfile{}, err
	}

	now := m.cfg.Now()
	for i, p := range profiles {
		if refresher == nil || !p.Credential.Expired() || !refresher.IsOAuth(p) {
			continue
		}
		newCred, refreshErr := refresher.Refresh(ctx, p)
		if refreshErr != nil {
			continue
		}
		p.Credential = newCred
		if err := m.save(p); err != nil {
			return models.AuthProfile{}, err
		}
		profiles[i] = p
	}

	available := make([]models.AuthProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Available(now) {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return models.AuthProfile{}, ErrNoAvailableProfile
	}

	sort.SliceStable(available, func(i, j int) bool {
		if available[i].Priority != available[j].Priority {
			return available[i].Priority < available[j].Priority
		}
		li, lj := available[i].LastUsedAt, available[j].LastUsedAt
		switch {
		case li == nil && lj == nil:
			return false
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.After(*lj)
		}
	})

	return available[0], nil
}

// SelectForModel walks the compatible_with(modelProvider) chain in
// preferred order, returning the first provider in the chain that yields
// an available profile.
func (m *Manager) SelectForModel(ctx context.Context, modelProvider models.AuthProvider, refresher OAuthRefresher) (models.AuthProfile, error) {
	chain, ok := m.compatible[modelProvider]
	if !ok {
		chain = []models.AuthProvider{modelProvider}
	}
	var lastErr error = ErrNoAvailableProfile
	for _, provider := range chain {
		profile, err := m.SelectProfile(ctx, provider, refresher)
		if err == nil {
			return profile, nil
		}
		lastErr = err
	}
	return models.AuthProfile{}, lastErr
}

// MarkSuccess clears a profile's failure count, marks it healthy, and
// records the current time as its last-used timestamp.
func (m *Manager) MarkSuccess(id string) error {
	now := m.cfg.Now()
	return m.mutate(id, func(p *models.AuthProfile) {
		p.FailureCount = 0
		p.Health = models.AuthHealthHealthy
		p.CooldownUntil = nil
		p.LastUsedAt = &now
	})
}

// MarkFailure increments a profile's consecutive failure count and sets
// cooldown_until = now + base*2^min(count-1,5). Once the count reaches
// cfg.MaxFailures, the profile is disabled permanently instead.
func (m *Manager) MarkFailure(id string) error {
	now := m.cfg.Now()
	return m.mutate(id, func(p *models.AuthProfile) {
		p.FailureCount++
		p.LastFailedAt = &now

		if p.FailureCount >= m.cfg.MaxFailures {
			p.Enabled = false
			p.Health = models.AuthHealthDisabled
			return
		}

		shift := p.FailureCount - 1
		if shift > 5 {
			shift = 5
		}
		backoff := m.cfg.CooldownBase * time.Duration(1<<uint(shift))
		until := now.Add(backoff)
		p.CooldownUntil = &until
		p.Health = models.AuthHealthCooldown
	})
}

func (m *Manager) mutate(id string, fn func(p *models.AuthProfile)) error {
	return m.store.Update(func(tx *bolt.Tx) error {
		var p models.AuthProfile
		if err := kv.GetJSON(tx, bucketProfiles, id, &p); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		fn(&p)
		return kv.PutJSON(tx, bucketProfiles, id, p)
	})
}

func (m *Manager) save(p models.AuthProfile) error {
	return m.store.Update(func(tx *bolt.Tx) error {
		return kv.PutJSON(tx, bucketProfiles, p.ID, p)
	})
}
