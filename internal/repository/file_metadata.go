package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
)

// FileMetadataSource reads a metadata snapshot from a YAML document.
type FileMetadataSource struct {
	path string
	now  func() time.Time
}

func NewFileMetadataSource(path string) *FileMetadataSource {
	return &FileMetadataSource{path: path, now: time.Now}
}

func (s *FileMetadataSource) Load(_ context.Context) (*models.MetadataSnapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var snap models.MetadataSnapshot
	if err := yaml.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", s.path, err)
	}
	snap.LoadedAt = s.now().UTC()
	if snap.Version == "" {
		info, err := os.Stat(s.path)
		if err == nil {
			snap.Version = info.ModTime().UTC().Format(time.RFC3339)
		}
	}
	return &snap, nil
}

// EmptyMetadataSource yields an empty snapshot. Disclosures still arrive from the feeds.
type EmptyMetadataSource struct{}

func (EmptyMetadataSource) Load(context.Context) (*models.MetadataSnapshot, error) {
	return &models.MetadataSnapshot{Version: "empty", LoadedAt: time.Now().UTC()}, nil
}

var (
	_ domrepo.MetadataSource = (*FileMetadataSource)(nil)
	_ domrepo.MetadataSource = EmptyMetadataSource{}
)
