package pdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

func TestValidatePDFPath(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "manual.PDF")
	require.NoError(t, os.WriteFile(valid, []byte("%PDF-1.7"), 0o644))
	text := filepath.Join(dir, "manual.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))

	tests := []struct {
		name      string
		path      string
		wantError string
	}{
		{name: "valid pdf with upper-case extension", path: valid},
		{name: "empty path", path: "  ", wantError: "file path cannot be empty"},
		{name: "missing file", path: filepath.Join(dir, "none.pdf"), wantError: "file does not exist"},
		{name: "directory", path: dir, wantError: "path is a directory"},
		{name: "wrong extension", path: text, wantError: "file is not a PDF"},
	}

	v := NewValidator(observability.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := v.ValidatePDFPath(tt.path)
			if tt.wantError == "" {
				require.NoError(t, err)
				assert.Equal(t, int64(8), size)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)

			var de *domain.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, domain.ErrorTypeValidation, de.Type)
		})
	}
}

func TestValidateQualityAndDPI(t *testing.T) {
	v := NewValidator(observability.Nop())

	assert.NoError(t, v.ValidateQuality(85))
	assert.Error(t, v.ValidateQuality(0))
	assert.Error(t, v.ValidateQuality(101))

	assert.NoError(t, v.ValidateDPI(200))
	assert.NoError(t, v.ValidateDPI(300))
	assert.Error(t, v.ValidateDPI(10))
	assert.Error(t, v.ValidateDPI(1200))
}

func TestCountPages_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := CountPages(path)
	assert.Error(t, err)

	_, err = CountPages(filepath.Join(t.TempDir(), "absent.pdf"))
	assert.Error(t, err)
}
