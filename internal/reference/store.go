// Package reference holds the descriptor sets of the diagram exemplars that
// pages are compared against. The store is built once at startup and is
// read-only afterwards.
package reference

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/features"
	"github.com/spherical/doc-ingest/internal/observability"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Exemplar is one reference diagram page.
type Exemplar struct {
	Name string
	Set  features.DescriptorSet
}

// ExemplarStats summarises an exemplar for diagnostics.
type ExemplarStats struct {
	Name      string
	Keypoints int
	Width     int
	Height    int
}

// Store is the immutable set of loaded exemplars.
type Store struct {
	exemplars []Exemplar
	dropped   []string
}

// NewStore builds a store from already computed exemplars. Exemplars
// without descriptors are dropped.
func NewStore(exemplars ...Exemplar) *Store {
	s := &Store{}
	for _, ex := range exemplars {
		if ex.Set.Len() == 0 {
			s.dropped = append(s.dropped, ex.Name)
			continue
		}
		s.exemplars = append(s.exemplars, ex)
	}
	return s
}

// Load decodes each image path and computes its descriptors. Exemplars that
// cannot be read, decoded or described are dropped with a warning. The
// returned store may be empty; check Available.
func Load(ctx context.Context, paths []string, detector *features.Detector, logger *observability.Logger) *Store {
	log := logger.WithComponent("reference")
	s := &Store{}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		name := filepath.Base(path)
		img, err := decodeFile(path)
		if err != nil {
			log.Warn().Str("exemplar", name).Err(err).Msg("Dropping reference exemplar")
			s.dropped = append(s.dropped, name)
			continue
		}

		set := detector.Detect(img)
		if set.Len() == 0 {
			log.Warn().Str("exemplar", name).Msg("Dropping reference exemplar without features")
			s.dropped = append(s.dropped, name)
			continue
		}

		log.Debug().Str("exemplar", name).Int("keypoints", set.Len()).Msg("Loaded reference exemplar")
		s.exemplars = append(s.exemplars, Exemplar{Name: name, Set: set})
	}

	if len(s.exemplars) == 0 {
		log.Warn().Int("configured", len(paths)).Msg("No reference exemplars loaded, classification disabled")
	} else {
		log.Info().Int("loaded", len(s.exemplars)).Int("dropped", len(s.dropped)).Msg("Reference store ready")
	}

	return s
}

// LoadDir loads every supported image in dir, in lexical order, on top of
// the explicit paths.
func LoadDir(ctx context.Context, dir string, paths []string, detector *features.Detector, logger *observability.Logger) (*Store, error) {
	all := append([]string(nil), paths...)

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return Load(ctx, all, detector, logger), domain.IOError(fmt.Sprintf("cannot read reference directory %s", dir), err)
		}

		var found []string
		for _, e := range entries {
			if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			found = append(found, filepath.Join(dir, e.Name()))
		}
		sort.Strings(found)
		all = append(all, found...)
	}

	return Load(ctx, all, detector, logger), nil
}

// ReferenceSets returns the loaded exemplars. The slice must not be modified.
func (s *Store) ReferenceSets() []Exemplar {
	return s.exemplars
}

// Available reports whether at least one exemplar was loaded.
func (s *Store) Available() bool {
	return s != nil && len(s.exemplars) > 0
}

// Err returns a classification-unavailable error when the store is empty.
func (s *Store) Err() error {
	if s.Available() {
		return nil
	}
	msg := "no reference exemplars loaded"
	if s != nil && len(s.dropped) > 0 {
		msg = fmt.Sprintf("all %d reference exemplars failed to load", len(s.dropped))
	}
	return domain.ClassificationUnavailableError(msg, nil)
}

// Dropped returns the names of exemplars that failed to load.
func (s *Store) Dropped() []string {
	return s.dropped
}

// Stats reports per-exemplar keypoint counts.
func (s *Store) Stats() []ExemplarStats {
	stats := make([]ExemplarStats, 0, len(s.exemplars))
	for _, ex := range s.exemplars {
		stats = append(stats, ExemplarStats{
			Name:      ex.Name,
			Keypoints: ex.Set.Len(),
			Width:     ex.Set.Width,
			Height:    ex.Set.Height,
		})
	}
	return stats
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
