package render

import (
	"sort"
	"sync"

	"diagrammer-backend/internal/models"
)

type Status string

const (
	StatusEmpty    Status = "empty"
	StatusRendered Status = "rendered"
	StatusFailed   Status = "failed"
)

// Well-known surface ids.
const (
	SurfacePreview = "preview"
	SurfaceModal   = "modal"
)

// Surface is a named render target whose content is replaced as a whole.
type Surface struct {
	ID string

	// deliver orders commit, bind and notify so observers see commits in sequence order.
	deliver  sync.Mutex
	mu       sync.Mutex
	status   Status
	content  string
	renderID string
	bindings []string
	seq      uint64
	mounted  bool
}

// Content returns the current status and content.
func (s *Surface) Content() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.content
}

// RenderID returns the id of the render that produced the current content.
func (s *Surface) RenderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderID
}

// Bind records an interactive binding attached to the current content. Bindings are
// dropped whenever the content is replaced.
func (s *Surface) Bind(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, name)
}

// Bindings returns the bindings attached to the current content.
func (s *Surface) Bindings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// reserve claims the next render sequence number. Only the holder of the latest
// sequence may commit.
func (s *Surface) reserve() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Surface) commit(seq uint64, status Status, content, renderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || !s.mounted {
		return false
	}
	s.status = status
	s.content = content
	s.renderID = renderID
	s.bindings = nil
	return true
}

// publish commits the content and, if it is still the latest, runs bind and notify
// before any newer render can commit.
func (s *Surface) publish(seq uint64, status Status, content, renderID string, bind BindFunc, notify func()) bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	if !s.commit(seq, status, content, renderID) {
		return false
	}
	if bind != nil {
		bind(s)
	}
	notify()
	return true
}

// UpdateFunc observes committed surface content.
type UpdateFunc func(surfaceID string, status Status, content, renderID string)

// Board is the set of surfaces mounted for one editing session.
type Board struct {
	mu       sync.RWMutex
	surfaces map[string]*Surface
	onUpdate UpdateFunc
}

func NewBoard(onUpdate UpdateFunc) *Board {
	return &Board{
		surfaces: make(map[string]*Surface),
		onUpdate: onUpdate,
	}
}

// Mount adds an empty surface, or returns the existing one.
func (b *Board) Mount(id string) *Surface {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.surfaces[id]; ok {
		return s
	}
	s := &Surface{ID: id, status: StatusEmpty, mounted: true}
	b.surfaces[id] = s
	return s
}

// Unmount removes a surface. In-flight renders targeting it are discarded.
func (b *Board) Unmount(id string) {
	b.mu.Lock()
	s, ok := b.surfaces[id]
	delete(b.surfaces, id)
	b.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.mounted = false
		s.mu.Unlock()
	}
}

func (b *Board) Surface(id string) (*Surface, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.surfaces[id]
	return s, ok
}

func (b *Board) Snapshot() []models.SurfaceSnapshot {
	b.mu.RLock()
	surfaces := make([]*Surface, 0, len(b.surfaces))
	for _, s := range b.surfaces {
		surfaces = append(surfaces, s)
	}
	b.mu.RUnlock()

	sort.Slice(surfaces, func(i, j int) bool { return surfaces[i].ID < surfaces[j].ID })

	out := make([]models.SurfaceSnapshot, 0, len(surfaces))
	for _, s := range surfaces {
		status, content := s.Content()
		out = append(out, models.SurfaceSnapshot{ID: s.ID, Status: string(status), Content: content})
	}
	return out
}

func (b *Board) notify(s *Surface, status Status, content, renderID string) {
	if b.onUpdate != nil {
		b.onUpdate(s.ID, status, content, renderID)
	}
}
