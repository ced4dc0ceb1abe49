package streaming

import "sync"

// EngineProgress is the read-only view of one running engine's
// position, rendered by internal/opsserver's /streams endpoint.
type EngineProgress struct {
	Kind             Kind
	NextStreamIndex  uint64
	NextRequestIndex uint64
	Complete         bool
}

// Registry tracks the set of currently-running engines so the ops
// surface can report stream progress without internal/opsserver
// importing this package's full Engine/Driver surface (cmd/node wires
// a small adapter between the two, keeping the packages decoupled the
// same way internal/subscription's VersionProvider seam does).
type Registry struct {
	mu      sync.Mutex
	engines map[string]Engine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register tracks engine under name (e.g. "account_sync", "validator_tx_feed").
func (r *Registry) Register(name string, engine Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = engine
}

// Unregister stops tracking name, typically once its Driver.Run returns.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
}

// Snapshot returns the current progress of every tracked engine.
func (r *Registry) Snapshot() []EngineProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EngineProgress, 0, len(r.engines))
	for _, e := range r.engines {
		nextStream, nextRequest := e.Progress()
		out = append(out, EngineProgress{
			Kind:             e.Kind(),
			NextStreamIndex:  nextStream,
			NextRequestIndex: nextRequest,
			Complete:         e.IsStreamComplete(),
		})
	}
	return out
}
