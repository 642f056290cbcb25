package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"inapp-messaging/internal/cache"
	"inapp-messaging/internal/remote"
)

// HostInfo describes the embedding application and device.
type HostInfo struct {
	AppID           string
	AppVersion      string
	SDKVersion      string
	Locale          string
	DeviceID        string
	Platform        int
	SubscriptionKey string
	ConfigURL       string
}

// HostRepository holds the current HostInfo.
type HostRepository struct {
	snap cache.Snapshot[HostInfo]
}

// NewHostRepository stores info, generating a device id when none is given.
func NewHostRepository(info HostInfo) *HostRepository {
	if info.DeviceID == "" {
		info.DeviceID = uuid.NewString()
	}
	if info.Platform == 0 {
		info.Platform = remote.PlatformAndroid
	}
	r := &HostRepository{}
	r.snap.Store(info)
	return r
}

func (r *HostRepository) Info() HostInfo {
	info, _ := r.snap.Load()
	return info
}

// SetSubscription records the credentials passed to Configure.
func (r *HostRepository) SetSubscription(key, configURL string) {
	info := r.Info()
	info.SubscriptionKey = key
	info.ConfigURL = configURL
	r.snap.Store(info)
}

// UserInfoProvider is implemented by the host app to identify the signed-in user.
type UserInfoProvider interface {
	UserID() string
	IDTrackingIdentifier() string
	AccessToken() string
}

// AccountRepository reads identity from the registered provider.
type AccountRepository struct {
	mu       sync.RWMutex
	provider UserInfoProvider
}

func NewAccountRepository() *AccountRepository { return &AccountRepository{} }

func (r *AccountRepository) SetProvider(p UserInfoProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = p
}

func (r *AccountRepository) get() UserInfoProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// UserIdentifiers lists the non-empty identifiers of the current user.
func (r *AccountRepository) UserIdentifiers() []remote.UserIdentifier {
	p := r.get()
	if p == nil {
		return []remote.UserIdentifier{}
	}
	out := []remote.UserIdentifier{}
	if id := p.UserID(); id != "" {
		out = append(out, remote.UserIdentifier{ID: id, Type: remote.IDTypeUserID})
	}
	if id := p.IDTrackingIdentifier(); id != "" {
		out = append(out, remote.UserIdentifier{ID: id, Type: remote.IDTypeIDTracking})
	}
	return out
}

func (r *AccountRepository) AccessToken() string {
	if p := r.get(); p != nil {
		return p.AccessToken()
	}
	return ""
}

// UserKey is a stable, non-reversible key for the current user's local state.
// Anonymous users share the empty key.
func (r *AccountRepository) UserKey() string {
	ids := r.UserIdentifiers()
	if len(ids) == 0 {
		return ""
	}
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id.ID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (r *AccountRepository) Reset() { r.SetProvider(nil) }
