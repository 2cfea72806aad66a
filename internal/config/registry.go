package config

import "sync"

// Registry is the process-wide, explicitly-initialized store of
// TenantConfig values. Spec §9 singles out per-tenant TenantConfig as one
// of the few legitimate process-wide mutable states; this type is that
// state, held behind a typed registry rather than a package-level map.
type Registry struct {
	mu       sync.RWMutex
	tenants  map[string]TenantConfig
}

// NewRegistry constructs an empty registry. Callers must Put tenants
// before Get will find them; there is no implicit default tenant.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]TenantConfig)}
}

func (r *Registry) Put(cfg TenantConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[cfg.TenantID] = cfg
}

func (r *Registry) Get(tenantID string) (TenantConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tenants[tenantID]
	return cfg, ok
}

// SetTradingEnabled flips the kill switch for a tenant. Used both by an
// operator clearing a manually-engaged kill switch and by the Stop Monitor
// automatically engaging one on a slippage-pause breach (§4.5).
func (r *Registry) SetTradingEnabled(tenantID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.tenants[tenantID]
	if !ok {
		return
	}
	cfg.TradingEnabled = enabled
	r.tenants[tenantID] = cfg
}

// Shutdown clears the registry. Explicit rather than implicit, per §9.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = make(map[string]TenantConfig)
}
