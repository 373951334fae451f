package metadata

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/domain/repository"
	"InsiderWatch/pkg/logger"
)

// Holder publishes the current View. Readers never block; writers replace the
// whole View atomically.
type Holder struct {
	current atomic.Pointer[View]
	source  repository.MetadataSource
	log     *logger.Logger
}

func NewHolder(source repository.MetadataSource, log *logger.Logger) *Holder {
	h := &Holder{source: source, log: log}
	empty, _ := Compile(nil)
	h.current.Store(empty)
	return h
}

// NewHolderWithView starts from an already compiled view.
func NewHolderWithView(v *View, log *logger.Logger) *Holder {
	h := &Holder{log: log}
	h.current.Store(v)
	return h
}

func (h *Holder) Current() *View { return h.current.Load() }

// Swap installs v and returns the previous view.
func (h *Holder) Swap(v *View) *View { return h.current.Swap(v) }

// Reload pulls a fresh snapshot from the source and swaps it in. Disclosures that
// arrived on the stream since the last load are carried over.
func (h *Holder) Reload(ctx context.Context) (*View, error) {
	if h.source == nil {
		return h.Current(), nil
	}
	start := time.Now()
	snap, err := h.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	if snap.LoadedAt.IsZero() {
		snap.LoadedAt = start
	}
	loaded := snap.Disclosures

	for {
		prev := h.Current()
		snap.Disclosures = append(append([]models.DisclosureEvent(nil), loaded...), prev.Disclosures()...)
		next, err := Compile(snap)
		if err != nil {
			return nil, fmt.Errorf("compile metadata %s: %w", snap.Version, err)
		}
		if !h.current.CompareAndSwap(prev, next) {
			continue
		}
		h.log.Info("metadata snapshot installed",
			logger.String("version", next.Version()),
			logger.String("previous", prev.Version()),
			logger.Int("disclosures", next.DisclosureCount()),
			logger.Duration("took", time.Since(start)),
		)
		return next, nil
	}
}

// AddDisclosure installs d in a new view. It reports false when the id is already known.
func (h *Holder) AddDisclosure(d models.DisclosureEvent) bool {
	for {
		cur := h.current.Load()
		if cur.HasDisclosure(d.DisclosureID) {
			return false
		}
		if h.current.CompareAndSwap(cur, cur.WithDisclosure(d)) {
			return true
		}
	}
}
