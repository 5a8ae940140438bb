// Package remote is a filetree backend talking to a server that speaks the
// protocol in package protocol, such as package server.
//
// Node objects are snapshots: every listing returns fresh objects built from
// the server's records. Events fired by a node reach the node the listing was
// made on and its ancestors, so listeners on a directory see changes made
// through any node listed below it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/protocol"
	"go.uber.org/zap"
)

// FS is a connection to one remote tree.
type FS struct {
	base   string
	client *http.Client
	name   string
	log    *zap.Logger

	rootOnce sync.Once
	root     *Dir
}

// Option configures an FS.
type Option func(*FS)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *FS) {
		f.client = client
	}
}

// WithTimeout sets the timeout of the default client.
// Default: 30s
func WithTimeout(d time.Duration) Option {
	return func(f *FS) {
		f.client = &http.Client{Timeout: d}
	}
}

// WithName sets the root directory's name.
// Default: "remote"
func WithName(name string) Option {
	return func(f *FS) {
		f.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *FS) {
		f.log = logger
	}
}

// New connects to the tree served at baseURL. No request is made until the
// tree is used.
func New(baseURL string, opts ...Option) (*FS, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote URL %q: scheme must be http or https", baseURL)
	}

	f := &FS{
		base:   strings.TrimSuffix(u.String(), "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		name:   "remote",
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the root directory.
func (f *FS) Root() filetree.Directory {
	f.rootOnce.Do(func() {
		f.root = &Dir{node: &node{
			fs:        f,
			rec:       protocol.Record{ID: "/", Name: f.name, Directory: true},
			listeners: filetree.NewListeners(),
		}}
		f.root.self = f.root
	})
	return f.root
}

// ============================================================================
// Requests
// ============================================================================

func (f *FS) url(path []string, dir bool) string {
	u := f.base + "/" + filetree.EncodePath(path)
	if dir && len(path) > 0 {
		u += "/"
	}
	return u
}

// do sends a request and decodes a JSON response into out when non-nil.
// Error responses are converted back into tree errors.
func (f *FS) do(ctx context.Context, method, u string, body io.Reader, contentType string, out any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var e protocol.ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Code == 0 {
			e = protocol.ErrorResponse{Code: resp.StatusCode, Error: http.StatusText(resp.StatusCode)}
		}
		f.log.Debug("remote request failed",
			zap.String("method", method),
			zap.String("url", u),
			zap.Int("status", resp.StatusCode))
		return nil, e.Err()
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, u, err)
		}
	}
	return data, nil
}

func (f *FS) postJSON(ctx context.Context, dir []string, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = f.do(ctx, http.MethodPost, f.url(filetree.JoinPath(dir, op), false), bytes.NewReader(body), "application/json", out)
	return err
}

// ============================================================================
// Nodes
// ============================================================================

type node struct {
	fs        *FS
	self      filetree.File
	listeners *filetree.Listeners

	mu      sync.Mutex
	rec     protocol.Record
	path    []string
	parent  *Dir
	deleted bool
}

// File is a remote file.
type File struct {
	*node
}

// Dir is a remote directory.
type Dir struct {
	*node
}

func (f *FS) newNode(parent *Dir, path []string, rec protocol.Record) filetree.File {
	n := &node{
		fs:        f,
		rec:       rec,
		path:      path,
		parent:    parent,
		listeners: filetree.NewListeners(),
	}
	if rec.Directory {
		d := &Dir{node: n}
		n.self = d
		return d
	}
	file := &File{node: n}
	n.self = file
	return file
}

func (n *node) snapshot(op string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.deleted {
		return nil, filetree.NewPathError(op, n.path, filetree.ErrNotExist)
	}
	return append([]string(nil), n.path...), nil
}

// changed fires the node's listeners, then its ancestors'.
func (n *node) changed() {
	n.listeners.Fire(n.self)
	n.mu.Lock()
	parent := n.parent
	n.mu.Unlock()
	if parent != nil {
		parent.changed()
	}
}

// Notify fires the node's listeners and its ancestors'.
func (n *node) Notify() {
	n.changed()
}

func (n *node) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rec.ID
}

func (n *node) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rec.Name
}

func (n *node) OnChange(fn filetree.Listener) (unregister func()) {
	return n.listeners.Register(fn)
}

func (n *node) Stat(ctx context.Context) (*filetree.Info, error) {
	path, err := n.snapshot("stat")
	if err != nil {
		return nil, err
	}
	var rec protocol.Record
	_, isDir := n.self.(*Dir)
	if _, err := n.fs.do(ctx, http.MethodGet, n.fs.url(path, isDir)+"?"+protocol.StatQuery, nil, "", &rec); err != nil {
		return nil, err
	}

	n.mu.Lock()
	if n.parent == nil {
		// The root's identity is local.
		rec.ID = n.rec.ID
		rec.Name = n.rec.Name
	}
	n.rec = rec
	n.mu.Unlock()

	return rec.Info(), nil
}

func (n *node) Read(ctx context.Context) ([]byte, error) {
	path, err := n.snapshot("read")
	if err != nil {
		return nil, err
	}
	if _, ok := n.self.(*Dir); ok {
		return nil, filetree.NewPathError("read", path, filetree.ErrIsDir)
	}
	return n.fs.do(ctx, http.MethodGet, n.fs.url(path, false), nil, "", nil)
}

func (n *node) Write(ctx context.Context, data []byte) ([]byte, error) {
	path, err := n.snapshot("write")
	if err != nil {
		return nil, err
	}
	if _, ok := n.self.(*Dir); ok {
		return nil, filetree.NewPathError("write", path, filetree.ErrIsDir)
	}
	var rec protocol.Record
	if _, err := n.fs.do(ctx, http.MethodPut, n.fs.url(path, false), bytes.NewReader(data), "application/octet-stream", &rec); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.rec = rec
	n.mu.Unlock()
	n.changed()
	return append([]byte(nil), data...), nil
}

func (n *node) Rename(ctx context.Context, name string) error {
	if err := filetree.ValidateName(name); err != nil {
		return filetree.NewPathError("rename", []string{name}, err)
	}
	path, err := n.snapshot("rename")
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return filetree.NewPathError("rename", nil, filetree.ErrNotSupported)
	}

	var rec protocol.Record
	req := protocol.RenameRequest{Name: path[len(path)-1], NewName: name}
	if err := n.fs.postJSON(ctx, path[:len(path)-1], protocol.OpRename, req, &rec); err != nil {
		return err
	}

	n.mu.Lock()
	n.rec = rec
	n.path = filetree.JoinPath(path[:len(path)-1], name)
	n.mu.Unlock()
	n.changed()
	return nil
}

func (n *node) Delete(ctx context.Context) error {
	path, err := n.snapshot("delete")
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return filetree.NewPathError("delete", nil, filetree.ErrNotSupported)
	}

	req := protocol.NameRequest{Name: path[len(path)-1]}
	if err := n.fs.postJSON(ctx, path[:len(path)-1], protocol.OpDelete, req, nil); err != nil {
		return err
	}

	n.mu.Lock()
	n.deleted = true
	n.mu.Unlock()
	n.changed()
	return nil
}

// remoteTarget returns target as a directory of this FS.
func (n *node) remoteTarget(target filetree.Directory) (*Dir, bool) {
	d, ok := filetree.Unwrap(target).(*Dir)
	if !ok || d.fs != n.fs {
		return nil, false
	}
	return d, true
}

func (n *node) Copy(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	d, ok := n.remoteTarget(target)
	if !ok {
		return filetree.CopyTo(ctx, n.self, target)
	}
	rec, dst, err := n.transfer(ctx, protocol.OpCopy, d)
	if err != nil {
		return nil, err
	}
	copied := n.fs.newNode(d, filetree.JoinPath(dst, rec.Name), rec)
	d.changed()
	return copied, nil
}

func (n *node) Move(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	d, ok := n.remoteTarget(target)
	if !ok {
		return filetree.MoveTo(ctx, n.self, target)
	}
	rec, dst, err := n.transfer(ctx, protocol.OpMove, d)
	if err != nil {
		return nil, err
	}

	// Tell the old ancestors before reparenting.
	n.changed()

	n.mu.Lock()
	n.rec = rec
	n.path = filetree.JoinPath(dst, rec.Name)
	n.parent = d
	n.mu.Unlock()
	d.changed()
	return n.self, nil
}

func (n *node) transfer(ctx context.Context, op string, target *Dir) (protocol.Record, []string, error) {
	path, err := n.snapshot(op)
	if err != nil {
		return protocol.Record{}, nil, err
	}
	if len(path) == 0 {
		return protocol.Record{}, nil, filetree.NewPathError(op, nil, filetree.ErrNotSupported)
	}
	dst, err := target.snapshot(op)
	if err != nil {
		return protocol.Record{}, nil, err
	}

	var rec protocol.Record
	req := protocol.TransferRequest{Name: path[len(path)-1], Target: dst}
	if err := n.fs.postJSON(ctx, path[:len(path)-1], op, req, &rec); err != nil {
		return protocol.Record{}, nil, err
	}
	return rec, dst, nil
}

// ============================================================================
// Directories
// ============================================================================

func (d *Dir) AddFile(ctx context.Context, data []byte, name, mimeType string) (filetree.File, error) {
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("addfile", []string{name}, err)
	}
	path, err := d.snapshot("addfile")
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField(protocol.FieldName, name)
	_ = mw.WriteField(protocol.FieldMimeType, mimeType)
	part, err := mw.CreateFormFile(protocol.FieldFile, name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var rec protocol.Record
	u := d.fs.url(filetree.JoinPath(path, protocol.OpAdd), false)
	if _, err := d.fs.do(ctx, http.MethodPost, u, &body, mw.FormDataContentType(), &rec); err != nil {
		return nil, err
	}

	f := d.fs.newNode(d, filetree.JoinPath(path, rec.Name), rec)
	d.changed()
	return f, nil
}

func (d *Dir) AddDirectory(ctx context.Context, name string) (filetree.Directory, error) {
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("adddirectory", []string{name}, err)
	}
	path, err := d.snapshot("adddirectory")
	if err != nil {
		return nil, err
	}

	var rec protocol.Record
	if err := d.fs.postJSON(ctx, path, protocol.OpMkdir, protocol.NameRequest{Name: name}, &rec); err != nil {
		return nil, err
	}
	rec.Directory = true

	sub := d.fs.newNode(d, filetree.JoinPath(path, rec.Name), rec)
	d.changed()
	return sub.(*Dir), nil
}

func (d *Dir) Children(ctx context.Context) ([]filetree.File, error) {
	path, err := d.snapshot("children")
	if err != nil {
		return nil, err
	}

	var records []protocol.Record
	if _, err := d.fs.do(ctx, http.MethodGet, d.fs.url(path, true), nil, "", &records); err != nil {
		return nil, err
	}

	out := make([]filetree.File, 0, len(records))
	for _, rec := range records {
		out = append(out, d.fs.newNode(d, filetree.JoinPath(path, rec.Name), rec))
	}
	return out, nil
}

func (d *Dir) GetFile(ctx context.Context, path []string) (filetree.File, error) {
	if _, err := d.snapshot("getfile"); err != nil {
		return nil, err
	}
	return filetree.Resolve(ctx, d, path)
}

// Search runs the query on the server. Results are not attached to
// intermediate directories: their events reach only the searched directory.
func (d *Dir) Search(ctx context.Context, query string) ([]filetree.SearchResult, error) {
	path, err := d.snapshot("search")
	if err != nil {
		return nil, err
	}

	var results []protocol.SearchResult
	if err := d.fs.postJSON(ctx, path, protocol.OpSearch, protocol.SearchRequest{Query: query}, &results); err != nil {
		return nil, err
	}

	out := make([]filetree.SearchResult, 0, len(results))
	for _, res := range results {
		out = append(out, filetree.SearchResult{
			Path: res.Path,
			File: d.fs.newNode(d, filetree.JoinPath(path, res.Path...), res.File),
		})
	}
	return out, nil
}

var (
	_ filetree.File      = (*File)(nil)
	_ filetree.Directory = (*Dir)(nil)
	_ filetree.Notifier  = (*Dir)(nil)
)
