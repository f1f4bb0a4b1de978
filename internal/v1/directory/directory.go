// Package directory implements the Agent Directory (ANS): a public
// manifest store keyed by speakerUri, supporting publish, filtered search,
// and deletion over the same envelope/conversant identification shapes as
// the rest of the protocol.
package directory

import (
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
)

// Status is the manifest lifecycle state. Recovered from the richer
// three-valued status model rather than spec.md's binary framing.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusInactive   Status = "inactive"
)

// Manifest is a stored agent capability record.
type Manifest struct {
	Identification envelope.ConversantIdentification
	Capabilities   []string
	Metadata       map[string]any
	Status         Status
	PublishedAt    time.Time
	UpdatedAt      time.Time
}

// Filters narrows a getManifests search. A zero-value Status means "default
// to active", matching the protocol's implicit active-only search.
type Filters struct {
	Capabilities []string
	Organization string
	Role         string
	SpeakerURI   string
	Status       Status
}

// Directory is the in-memory manifest store. Mutations are serialized;
// reads may proceed concurrently (spec.md §5).
type Directory struct {
	mu        sync.RWMutex
	manifests map[string]Manifest
}

// New creates an empty Agent Directory.
func New() *Directory {
	return &Directory{manifests: make(map[string]Manifest)}
}

// Publish upserts each manifest by speakerUri, preserving publishedAt and
// refreshing updatedAt on update, and returns the stored records in the
// same order as the input (spec.md §4.F).
func (d *Directory) Publish(records []Manifest) []Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	out := make([]Manifest, 0, len(records))
	for _, rec := range records {
		uri := rec.Identification.SpeakerURI
		if rec.Status == "" {
			rec.Status = StatusActive
		}
		if existing, ok := d.manifests[uri]; ok {
			rec.PublishedAt = existing.PublishedAt
		} else {
			rec.PublishedAt = now
		}
		rec.UpdatedAt = now
		d.manifests[uri] = rec
		out = append(out, rec)
	}
	d.refreshGaugeLocked()
	return out
}

// Get returns the manifest registered for speakerUri, if any.
func (d *Directory) Get(speakerURI string) (Manifest, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.manifests[speakerURI]
	return m, ok
}

// Search returns every manifest matching all supplied filters (spec.md
// §4.F): capabilities must be a subset of the stored capability set,
// organization/role/speakerUri require an exact match, and status defaults
// to active when unset.
func (d *Directory) Search(filters Filters) []Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wantStatus := filters.Status
	if wantStatus == "" {
		wantStatus = StatusActive
	}

	var out []Manifest
	for _, m := range d.manifests {
		if m.Status != wantStatus {
			continue
		}
		if filters.SpeakerURI != "" && m.Identification.SpeakerURI != filters.SpeakerURI {
			continue
		}
		if filters.Organization != "" && m.Identification.Organization != filters.Organization {
			continue
		}
		if filters.Role != "" && m.Identification.Role != filters.Role {
			continue
		}
		if len(filters.Capabilities) > 0 && !isSuperset(m.Capabilities, filters.Capabilities) {
			continue
		}
		out = append(out, m)
	}

	result := "found"
	if len(out) == 0 {
		result = "empty"
	}
	metrics.DirectorySearches.WithLabelValues(result).Inc()
	return out
}

// isSuperset reports whether have contains every element of want.
func isSuperset(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// Delete removes the manifest registered for speakerUri. Returns false if
// no such record existed.
func (d *Directory) Delete(speakerURI string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.manifests[speakerURI]; !ok {
		return false
	}
	delete(d.manifests, speakerURI)
	d.refreshGaugeLocked()
	return true
}

// refreshGaugeLocked recomputes the DirectoryManifests gauge by status.
// Caller must hold d.mu.
func (d *Directory) refreshGaugeLocked() {
	counts := map[Status]int{StatusActive: 0, StatusDeprecated: 0, StatusInactive: 0}
	for _, m := range d.manifests {
		counts[m.Status]++
	}
	for status, n := range counts {
		metrics.DirectoryManifests.WithLabelValues(string(status)).Set(float64(n))
	}
}
