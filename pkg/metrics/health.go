package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health and readiness states reported by the status endpoints
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
	StatusAlive     = "alive"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// DefaultCriticalComponents must be registered and healthy for readiness
var DefaultCriticalComponents = []string{"bus"}

// Registry tracks component health for one process
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	started    time.Time
	version    string
}

// NewRegistry creates an empty registry waiting on DefaultCriticalComponents
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]ComponentHealth),
		critical:   append([]string(nil), DefaultCriticalComponents...),
		started:    time.Now(),
	}
}

// registry backs the package level functions
var registry = NewRegistry()

// Set records the state of a component, registering it on first use
func (r *Registry) Set(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

func (r *Registry) component(name string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Health reports unhealthy as soon as one component is
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := r.base(StatusHealthy)
	for name, c := range r.components {
		if c.Healthy {
			status.Components[name] = StatusHealthy
			continue
		}
		status.Status = StatusUnhealthy
		status.Components[name] = StatusUnhealthy + ": " + c.Message
	}
	return status
}

// Readiness reports ready once every critical component is registered and
// healthy. The message names the first critical component still missing.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := r.base(StatusReady)
	for _, name := range r.critical {
		c, ok := r.components[name]
		switch {
		case !ok:
			status.Components[name] = "not registered"
			r.notReady(&status, "waiting for "+name+" initialization")
		case !c.Healthy:
			status.Components[name] = "not ready: " + c.Message
			r.notReady(&status, "waiting for "+name)
		default:
			status.Components[name] = StatusReady
		}
	}
	return status
}

func (r *Registry) notReady(status *HealthStatus, message string) {
	if status.Status == StatusReady {
		status.Message = message
	}
	status.Status = StatusNotReady
}

func (r *Registry) base(state string) HealthStatus {
	return HealthStatus{
		Status:     state,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    r.version,
		Uptime:     time.Since(r.started).String(),
		StartTime:  r.started,
	}
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.critical = append([]string(nil), names...)
	sort.Strings(registry.critical)
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent registers a component for health checking
func RegisterComponent(name string, healthy bool, message string) {
	registry.Set(name, healthy, message)
}

// UpdateComponent updates the health status of a component
func UpdateComponent(name string, healthy bool, message string) {
	registry.Set(name, healthy, message)
}

// GetHealth returns the overall health status
func GetHealth() HealthStatus {
	return registry.Health()
}

// GetReadiness returns the readiness status
func GetReadiness() HealthStatus {
	return registry.Readiness()
}

func writeStatus(w http.ResponseWriter, ok bool, body any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves GetHealth, with 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeStatus(w, health.Status == StatusHealthy, health)
	}
}

// ReadyHandler serves GetReadiness, with 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeStatus(w, readiness.Status == StatusReady, readiness)
	}
}

// LivenessHandler always answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, true, map[string]string{
			"status": StatusAlive,
			"uptime": time.Since(registry.started).String(),
		})
	}
}
