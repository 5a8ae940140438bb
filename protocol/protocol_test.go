package protocol

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	info := &filetree.Info{
		ID:           "id-1",
		Name:         "a.txt",
		MimeType:     "text/plain",
		Size:         3,
		Created:      created,
		LastModified: created,
	}

	r := NewRecord(info, "http://host/a.txt")
	require.NotNil(t, r.URL)
	assert.Equal(t, "http://host/a.txt", *r.URL)
	assert.Equal(t, time.UTC, r.Created.Location())

	back := r.Info()
	assert.Equal(t, "http://host/a.txt", back.URL)
	assert.True(t, back.Created.Equal(created))
	assert.False(t, back.Dir)

	dir := NewRecord(&filetree.Info{ID: "d", Name: "docs", Dir: true}, "ignored")
	assert.Nil(t, dir.URL)
	assert.Empty(t, dir.Info().URL)
}

func TestIsReserved(t *testing.T) {
	for _, name := range []string{OpAdd, OpMkdir, OpRename, OpDelete, OpCopy, OpMove, OpSearch} {
		assert.True(t, IsReserved(name), name)
	}
	assert.False(t, IsReserved(".hidden"))
	assert.False(t, IsReserved("add"))
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{filetree.NewPathError("getfile", []string{"a"}, filetree.ErrNotExist), http.StatusNotFound, "notExist"},
		{filetree.ErrExist, http.StatusConflict, "exist"},
		{filetree.ErrReadOnly, http.StatusMethodNotAllowed, "readOnly"},
		{filetree.ErrNotSupported, http.StatusMethodNotAllowed, "notSupported"},
		{filetree.ErrInvalidName, http.StatusBadRequest, "invalidName"},
		{filetree.ErrNotDir, http.StatusBadRequest, "notDir"},
		{filetree.ErrRejected, http.StatusUnprocessableEntity, "rejected"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			resp := NewErrorResponse(tt.err)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.status, StatusFor(tt.err))

			if tt.kind != "" {
				assert.True(t, errors.Is(resp.Err(), tt.err) || errors.Is(resp.Err(), errors.Unwrap(tt.err)))
			}
		})
	}
}

func TestErrorResponseFallback(t *testing.T) {
	err := ErrorResponse{Error: "gone", Code: http.StatusNotFound}.Err()
	assert.ErrorIs(t, err, filetree.ErrNotExist)

	err = ErrorResponse{Error: "bad", Code: http.StatusBadRequest}.Err()
	assert.False(t, errors.Is(err, filetree.ErrInvalidName))
	assert.EqualError(t, err, "remote error 400: bad")

	// The read-only kind still reads as not supported.
	err = ErrorResponse{Error: "ro", Code: http.StatusMethodNotAllowed, Kind: "readOnly"}.Err()
	assert.ErrorIs(t, err, filetree.ErrReadOnly)
	assert.ErrorIs(t, err, filetree.ErrNotSupported)
}
