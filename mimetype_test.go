package filetree_test

import (
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/stretchr/testify/assert"
)

func TestGuessMimeType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"a.txt", nil, filetree.MIMETypeTextPlain},
		{"A.JSON", nil, filetree.MIMETypeApplicationJSON},
		{"notes.md", nil, "text/markdown"},
		{"photo.png", []byte("not really"), filetree.MIMETypeImagePNG},
		{"page", []byte("<html><body></body></html>"), "text/html; charset=utf-8"},
		{"blob", nil, filetree.MIMETypeOctetStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filetree.GuessMimeType(tt.name, tt.data))
		})
	}
}

func TestIconFor(t *testing.T) {
	tests := []struct {
		mimeType string
		dir      bool
		want     string
	}{
		{"", true, filetree.IconFolder},
		{"image/png", false, filetree.IconImage},
		{"audio/ogg", false, filetree.IconAudio},
		{"video/mp4", false, filetree.IconVideo},
		{"application/pdf", false, filetree.IconPDF},
		{"application/zip", false, filetree.IconArchive},
		{"text/plain; charset=utf-8", false, filetree.IconText},
		{"application/json", false, filetree.IconText},
		{"application/octet-stream", false, filetree.IconFile},
	}
	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			assert.Equal(t, tt.want, filetree.IconFor(tt.mimeType, tt.dir))
		})
	}
	assert.True(t, filetree.IsTextFile("text/csv"))
	assert.True(t, filetree.IsCompressedFile("application/gzip"))
}
