package alerts

import (
	"sort"
	"time"

	"InsiderWatch/internal/domain/models"
)

// Registry groups the generators of all partitions behind one read API.
type Registry struct {
	gens []*Generator
}

func NewRegistry(partitions int, cfg Config) (*Registry, error) {
	r := &Registry{gens: make([]*Generator, partitions)}
	for i := range r.gens {
		g, err := NewGenerator(cfg)
		if err != nil {
			return nil, err
		}
		r.gens[i] = g
	}
	return r, nil
}

// Partition returns the generator owned by partition i.
func (r *Registry) Partition(i int) *Generator { return r.gens[i] }

func (r *Registry) Len() int { return len(r.gens) }

// Open lists every open alert, ranked across partitions.
func (r *Registry) Open() []*models.Alert {
	var out []*models.Alert
	for _, g := range r.gens {
		out = append(out, g.Open()...)
	}
	Rank(out)
	return out
}

func (r *Registry) All(status models.AlertStatus) []*models.Alert {
	var out []*models.Alert
	for _, g := range r.gens {
		out = append(out, g.All(status)...)
	}
	Rank(out)
	return out
}

func (r *Registry) Get(id string) (*models.Alert, error) {
	for _, g := range r.gens {
		if a, ok := g.Get(id); ok {
			return a, nil
		}
	}
	return nil, models.ErrAlertNotFound
}

func (r *Registry) Sweep(asOf time.Time) int {
	n := 0
	for _, g := range r.gens {
		n += g.Sweep(asOf)
	}
	return n
}

func (r *Registry) Compact(cutoff time.Time) int {
	n := 0
	for _, g := range r.gens {
		n += g.Compact(cutoff)
	}
	return n
}

// Drain collects pending transitions from every partition ordered by time, then
// alert id and sequence.
func (r *Registry) Drain() []models.AlertTransition {
	var out []models.AlertTransition
	for _, g := range r.gens {
		out = append(out, g.Drain()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].AlertID != out[j].AlertID {
			return out[i].AlertID < out[j].AlertID
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
