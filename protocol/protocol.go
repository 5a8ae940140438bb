// Package protocol defines the wire format shared by the HTTP server and the
// remote backend.
//
// A directory is addressed by its path with a trailing slash; GET on it lists
// the children. A file is addressed without the slash; GET returns its bytes
// and PUT replaces them. "?stat" on either returns one Record. Every other
// operation is a POST to a reserved name inside the directory it acts on,
// for example POST /docs/.rename.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gobeaver/filetree"
)

// Reserved child names used as RPC endpoints.
const (
	OpAdd    = ".add"
	OpMkdir  = ".mkdir"
	OpRename = ".rename"
	OpDelete = ".delete"
	OpCopy   = ".copy"
	OpMove   = ".move"
	OpSearch = ".search"
)

// StatQuery is the query parameter that turns a GET into a stat.
const StatQuery = "stat"

// IsReserved reports whether name is an RPC endpoint.
func IsReserved(name string) bool {
	switch name {
	case OpAdd, OpMkdir, OpRename, OpDelete, OpCopy, OpMove, OpSearch:
		return true
	}
	return false
}

// Record is the metadata of one node.
type Record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Directory    bool           `json:"directory"`
	MimeType     string         `json:"mimeType,omitempty"`
	LastModified time.Time      `json:"lastModified"`
	Created      time.Time      `json:"created"`
	URL          *string        `json:"url"`
	Icon         string         `json:"icon,omitempty"`
	Size         int64          `json:"size"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// NewRecord converts node metadata to its wire form. url is ignored for
// directories.
func NewRecord(info *filetree.Info, url string) Record {
	r := Record{
		ID:           info.ID,
		Name:         info.Name,
		Directory:    info.Dir,
		MimeType:     info.MimeType,
		LastModified: info.LastModified.UTC(),
		Created:      info.Created.UTC(),
		Icon:         info.Icon,
		Size:         info.Size,
		Extra:        info.Extra,
	}
	if !info.Dir {
		r.URL = &url
	}
	return r
}

// Info converts a record back to node metadata.
func (r Record) Info() *filetree.Info {
	info := &filetree.Info{
		ID:           r.ID,
		Name:         r.Name,
		Dir:          r.Directory,
		MimeType:     r.MimeType,
		Size:         r.Size,
		Icon:         r.Icon,
		Extra:        r.Extra,
		Created:      r.Created,
		LastModified: r.LastModified,
	}
	if r.URL != nil {
		info.URL = *r.URL
	}
	return info
}

// NameRequest is the body of .mkdir and .delete.
type NameRequest struct {
	Name string `json:"name"`
}

// RenameRequest is the body of .rename.
type RenameRequest struct {
	Name    string `json:"name"`
	NewName string `json:"newName"`
}

// TransferRequest is the body of .copy and .move. Target is the destination
// directory's path from the served root.
type TransferRequest struct {
	Name   string   `json:"name"`
	Target []string `json:"target"`
}

// SearchRequest is the body of .search.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResult is one entry of a .search response. Path is relative to the
// searched directory and ends with the match's name.
type SearchResult struct {
	Path []string `json:"path"`
	File Record   `json:"file"`
}

// Multipart field names of .add.
const (
	FieldName     = "name"
	FieldMimeType = "mimeType"
	FieldFile     = "file"
)

// ErrorResponse is returned on failed requests. Kind names the tree
// sentinel behind the failure, empty for other errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

var kinds = []struct {
	kind   string
	err    error
	status int
}{
	{"notExist", filetree.ErrNotExist, http.StatusNotFound},
	{"exist", filetree.ErrExist, http.StatusConflict},
	{"readOnly", filetree.ErrReadOnly, http.StatusMethodNotAllowed},
	{"notSupported", filetree.ErrNotSupported, http.StatusMethodNotAllowed},
	{"invalidName", filetree.ErrInvalidName, http.StatusBadRequest},
	{"invalidTarget", filetree.ErrInvalidTarget, http.StatusBadRequest},
	{"isDir", filetree.ErrIsDir, http.StatusBadRequest},
	{"notDir", filetree.ErrNotDir, http.StatusBadRequest},
	{"rejected", filetree.ErrRejected, http.StatusUnprocessableEntity},
}

// NewErrorResponse describes err for the wire.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Code: http.StatusInternalServerError}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			resp.Code = k.status
			resp.Kind = k.kind
			break
		}
	}
	return resp
}

// StatusFor maps a tree error to an HTTP status.
func StatusFor(err error) int {
	return NewErrorResponse(err).Code
}

// Err converts a decoded error response back into an error wrapping the
// matching sentinel. Unknown kinds fall back to the status code.
func (e ErrorResponse) Err() error {
	for _, k := range kinds {
		if k.kind == e.Kind {
			return fmt.Errorf("%s: %w", e.Error, k.err)
		}
	}
	for _, k := range kinds {
		if k.status == e.Code && k.status != http.StatusBadRequest {
			return fmt.Errorf("%s: %w", e.Error, k.err)
		}
	}
	return fmt.Errorf("remote error %d: %s", e.Code, e.Error)
}
