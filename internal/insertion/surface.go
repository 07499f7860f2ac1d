package insertion

import "sync"

// AnchorKind distinguishes the kinds of edit targets an insertion can land
// in. Rollback re-anchoring only considers surfaces of the same kind.
type AnchorKind string

const (
	AnchorPlainField AnchorKind = "plain_field"
	AnchorRichRegion AnchorKind = "rich_region"
)

// Surface is an editable target the coordinator can write to and restore.
// Attached reports whether the surface still exists in the host document;
// writes to a detached surface are lost. Focus directs the user's attention
// to the surface, which the coordinator does after a compensating write.
type Surface interface {
	ID() string
	Kind() AnchorKind
	Read() string
	Write(content string) error
	Focus()
	Attached() bool
}

// Registry tracks live surfaces so a rollback whose original target has
// detached can re-anchor to an equivalent one.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
}

func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[string]Surface)}
}

func (r *Registry) Register(s Surface) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.surfaces[s.ID()] = s
	r.mu.Unlock()
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.surfaces, id)
	r.mu.Unlock()
}

// FindByKind returns an attached surface of the given kind, excluding the
// one named by excludeID.
func (r *Registry) FindByKind(kind AnchorKind, excludeID string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.surfaces {
		if id == excludeID {
			continue
		}
		if s.Kind() == kind && s.Attached() {
			return s, true
		}
	}
	return nil, false
}
