package reference

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/features"
	"github.com/spherical/doc-ingest/internal/observability"
)

func writeShapesPNG(t *testing.T, dir, name string, seed uint64) string {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed+1))
	g := image.NewGray(image.Rect(0, 0, 300, 300))
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	for n := 0; n < 40; n++ {
		x0, y0 := rng.IntN(280), rng.IntN(280)
		level := uint8(rng.IntN(256))
		for y := y0; y < min(y0+10+rng.IntN(40), 300); y++ {
			for x := x0; x < min(x0+30, 300); x++ {
				g.SetGray(x, y, color.Gray{Y: level})
			}
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, g))
	return path
}

func TestLoad_DropsUnreadableExemplars(t *testing.T) {
	dir := t.TempDir()
	good := writeShapesPNG(t, dir, "diagram-1.png", 1)
	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))

	store := Load(context.Background(),
		[]string{good, corrupt, filepath.Join(dir, "missing.png")},
		features.NewDetector(features.DefaultOptions()),
		observability.Nop())

	require.True(t, store.Available())
	require.Len(t, store.ReferenceSets(), 1)
	assert.Equal(t, "diagram-1.png", store.ReferenceSets()[0].Name)
	assert.ElementsMatch(t, []string{"corrupt.png", "missing.png"}, store.Dropped())
	assert.NoError(t, store.Err())
}

func TestLoad_AllExemplarsFail(t *testing.T) {
	store := Load(context.Background(), []string{"/nonexistent/a.png"},
		features.NewDetector(features.DefaultOptions()), observability.Nop())

	assert.False(t, store.Available())
	assert.ErrorIs(t, store.Err(), domain.ErrClassificationUnavailable)
	assert.Contains(t, store.Err().Error(), "all 1 reference exemplars failed to load")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeShapesPNG(t, dir, "b.png", 2)
	writeShapesPNG(t, dir, "a.png", 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	store, err := LoadDir(context.Background(), dir, nil,
		features.NewDetector(features.DefaultOptions()), observability.Nop())
	require.NoError(t, err)

	stats := store.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a.png", stats[0].Name)
	assert.Equal(t, "b.png", stats[1].Name)
	assert.Greater(t, stats[0].Keypoints, 0)
	assert.Equal(t, 300, stats[0].Width)
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	store, err := LoadDir(context.Background(), "/nonexistent-dir", nil,
		features.NewDetector(features.DefaultOptions()), observability.Nop())

	assert.Error(t, err)
	assert.False(t, store.Available())
}

func TestNewStore(t *testing.T) {
	set := features.DescriptorSet{
		Keypoints:   []features.Keypoint{{X: 40, Y: 40}},
		Descriptors: []features.Descriptor{{1}},
	}

	store := NewStore(Exemplar{Name: "ok", Set: set}, Exemplar{Name: "empty"})

	assert.True(t, store.Available())
	assert.Len(t, store.ReferenceSets(), 1)
	assert.Equal(t, []string{"empty"}, store.Dropped())

	var nilStore *Store
	assert.False(t, nilStore.Available())
	assert.ErrorIs(t, nilStore.Err(), domain.ErrClassificationUnavailable)
}
