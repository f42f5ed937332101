package tracking

import (
	"slices"
	"sync"
	"time"
)

// Trackable is one registered target and its last observed pose.
type Trackable struct {
	ID         int       `json:"id"`
	Config     string    `json:"config"`
	Pose       Matrix4   `json:"pose"`
	Confidence float64   `json:"confidence"` // 0-1, decays over time when not seen
	LastSeen   time.Time `json:"last_seen"`
}

// Registry keeps the trackables an engine knows about. A trackable is visible
// while its confidence stays at or above the visibility threshold.
type Registry struct {
	mu     sync.RWMutex
	items  map[int]*Trackable
	nextID int

	confidenceDecay float64       // confidence lost per second unseen
	visibleAbove    float64       // minimum confidence to report a pose
	forgetTimeout   time.Duration // pose is invisible after this long unseen
	now             func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items:           make(map[int]*Trackable),
		confidenceDecay: 2.0,
		visibleAbove:    0.5,
		forgetTimeout:   time.Second,
		now:             time.Now,
	}
}

// Add registers a trackable and returns its ID. IDs start at 0.
func (r *Registry) Add(config string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.items[id] = &Trackable{ID: id, Config: config, Pose: Identity()}
	return id
}

// Remove unregisters a trackable.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	return true
}

// RemoveAll unregisters every trackable and returns how many there were.
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.items)
	r.items = make(map[int]*Trackable)
	return n
}

// Observe records a fresh pose for id.
func (r *Registry) Observe(id int, pose Matrix4) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[id]
	if !ok {
		return false
	}
	t.Pose = pose
	t.Confidence = 1.0
	t.LastSeen = r.now()
	return true
}

// Decay reduces the confidence of every trackable by dt seconds of decay.
func (r *Registry) Decay(dt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.items {
		t.Confidence -= r.confidenceDecay * dt
		if t.Confidence < 0 {
			t.Confidence = 0
		}
	}
}

// Hide drops every trackable's confidence to zero.
func (r *Registry) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.items {
		t.Confidence = 0
	}
}

// Visible returns the pose of id when it is currently visible.
func (r *Registry) Visible(id int) (Matrix4, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.items[id]
	if !ok || t.Confidence < r.visibleAbove {
		return Matrix4{}, false
	}
	if r.now().Sub(t.LastSeen) > r.forgetTimeout {
		return Matrix4{}, false
	}
	return t.Pose, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// IDs returns the registered IDs in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// All returns a copy of every trackable, ordered by ID.
func (r *Registry) All() []Trackable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Trackable, 0, len(r.items))
	for _, t := range r.items {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Trackable) int { return a.ID - b.ID })
	return out
}
