// Package server exports a filetree.Directory over HTTP using the wire
// format in package protocol.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TreePrefix is where NewRouter mounts the tree.
const TreePrefix = "/fs"

// DefaultMaxBodySize caps request bodies for PUT and .add.
const DefaultMaxBodySize = 32 << 20

// Server serves one directory.
type Server struct {
	root        filetree.Directory
	router      chi.Router
	log         *zap.Logger
	baseURL     string
	maxBodySize int64
	registerer  prometheus.Registerer
	namespace   string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for failed requests.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithBaseURL sets the prefix of the file URLs reported in records.
// Default: "" (URLs are paths from the served root)
func WithBaseURL(base string) Option {
	return func(s *Server) {
		s.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithMaxBodySize caps request bodies.
// Default: DefaultMaxBodySize
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		s.maxBodySize = n
	}
}

// WithRegisterer instruments every request with prometheus metrics
// registered on reg.
func WithRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(s *Server) {
		s.registerer = reg
		s.namespace = namespace
	}
}

// New creates a server for root.
func New(root filetree.Directory, opts ...Option) *Server {
	s := &Server{
		root:        root,
		log:         zap.NewNop(),
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, middleware.RequestID)
	if s.registerer != nil {
		r.Use(instrument(s.registerer, s.namespace))
	}
	r.Get("/*", s.get)
	r.Put("/*", s.put)
	r.Post("/*", s.post)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, 0, filetree.NewPathError(strings.ToLower(r.Method), nil, filetree.ErrNotSupported))
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewRouter mounts srv under TreePrefix and, when gatherer is non-nil,
// exposes its metrics on /metrics.
func NewRouter(srv *Server, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount(TreePrefix, http.StripPrefix(TreePrefix, srv))
	return r
}

func instrument(reg prometheus.Registerer, namespace string) func(http.Handler) http.Handler {
	if namespace == "" {
		namespace = "filetree"
	}
	counter := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "A counter of total requests.",
	}, []string{"code", "method"}))
	duration := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "A histogram of request duration.",
		Buckets:   []float64{.005, .025, .1, .25, 1, 5},
	}, []string{"code", "method"}))
	inFlight := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "A gauge of requests currently in flight.",
	}))

	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerInFlight(inFlight,
			promhttp.InstrumentHandlerDuration(duration,
				promhttp.InstrumentHandlerCounter(counter, next)))
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ============================================================================
// Handlers
// ============================================================================

// target decodes the request path. A trailing slash addresses a directory.
func target(r *http.Request) (path []string, dir bool, err error) {
	escaped := r.URL.EscapedPath()
	dir = escaped == "" || strings.HasSuffix(escaped, "/")
	path, err = filetree.DecodePath(escaped)
	if err != nil {
		return nil, false, filetree.NewPathError("decode", nil, filetree.ErrInvalidName)
	}
	return path, dir, nil
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, dir, err := target(r)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	node, err := s.root.GetFile(ctx, path)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}

	if r.URL.Query().Has(protocol.StatQuery) {
		rec, err := s.record(r, node, path)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)
		return
	}

	switch n := node.(type) {
	case filetree.Directory:
		if !dir {
			s.fail(w, r, 0, filetree.NewPathError("read", path, filetree.ErrIsDir))
			return
		}
		children, err := n.Children(ctx)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		records := make([]protocol.Record, 0, len(children))
		for _, child := range children {
			rec, err := s.record(r, child, filetree.JoinPath(path, child.Name()))
			if filetree.IsNotExist(err) {
				continue
			}
			if err != nil {
				s.fail(w, r, 0, err)
				return
			}
			records = append(records, rec)
		}
		s.writeJSON(w, http.StatusOK, records)
	default:
		if dir {
			s.fail(w, r, 0, filetree.NewPathError("children", path, filetree.ErrNotDir))
			return
		}
		info, err := n.Stat(ctx)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		data, err := n.Read(ctx)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		etag := filetree.ContentETag(data)
		w.Header().Set("ETag", etag)
		if !info.LastModified.IsZero() {
			w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if info.MimeType != "" {
			w.Header().Set("Content-Type", info.MimeType)
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.log.Warn("write response", zap.Error(err))
		}
	}
}

func (s *Server) put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, dir, err := target(r)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	if dir {
		s.fail(w, r, 0, filetree.NewPathError("write", path, filetree.ErrIsDir))
		return
	}
	node, err := s.root.GetFile(ctx, path)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.fail(w, r, http.StatusRequestEntityTooLarge, err)
		return
	}
	if _, err := node.Write(ctx, data); err != nil {
		s.fail(w, r, 0, err)
		return
	}
	rec, err := s.record(r, node, path)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, _, err := target(r)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	if len(path) == 0 || !protocol.IsReserved(path[len(path)-1]) {
		s.fail(w, r, 0, filetree.NewPathError("post", path, filetree.ErrNotSupported))
		return
	}
	op, dirPath := path[len(path)-1], path[:len(path)-1]

	node, err := s.root.GetFile(ctx, dirPath)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	dir, ok := node.(filetree.Directory)
	if !ok {
		s.fail(w, r, 0, filetree.NewPathError(op, dirPath, filetree.ErrNotDir))
		return
	}

	switch op {
	case protocol.OpAdd:
		s.add(w, r, dir, dirPath)
	case protocol.OpMkdir:
		var req protocol.NameRequest
		if !s.decode(w, r, &req) {
			return
		}
		sub, err := dir.AddDirectory(ctx, req.Name)
		s.respond(w, r, http.StatusCreated, sub, filetree.JoinPath(dirPath, req.Name), err)
	case protocol.OpRename:
		var req protocol.RenameRequest
		if !s.decode(w, r, &req) {
			return
		}
		child, err := s.child(r, dir, dirPath, req.Name)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		err = child.Rename(ctx, req.NewName)
		s.respond(w, r, http.StatusOK, child, filetree.JoinPath(dirPath, req.NewName), err)
	case protocol.OpDelete:
		var req protocol.NameRequest
		if !s.decode(w, r, &req) {
			return
		}
		child, err := s.child(r, dir, dirPath, req.Name)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		if err := child.Delete(ctx); err != nil {
			s.fail(w, r, 0, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case protocol.OpCopy, protocol.OpMove:
		s.transfer(w, r, op, dir, dirPath)
	case protocol.OpSearch:
		var req protocol.SearchRequest
		if !s.decode(w, r, &req) {
			return
		}
		results, err := dir.Search(ctx, req.Query)
		if err != nil {
			s.fail(w, r, 0, err)
			return
		}
		out := make([]protocol.SearchResult, 0, len(results))
		for _, res := range results {
			rec, err := s.record(r, res.File, filetree.JoinPath(dirPath, res.Path...))
			if filetree.IsNotExist(err) {
				continue
			}
			if err != nil {
				s.fail(w, r, 0, err)
				return
			}
			out = append(out, protocol.SearchResult{Path: res.Path, File: rec})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) add(w http.ResponseWriter, r *http.Request, dir filetree.Directory, dirPath []string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if err := r.ParseMultipartForm(s.maxBodySize); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	name := r.FormValue(protocol.FieldName)
	mimeType := r.FormValue(protocol.FieldMimeType)

	var data []byte
	file, _, err := r.FormFile(protocol.FieldFile)
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		s.fail(w, r, http.StatusBadRequest, err)
		return
	default:
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
	}

	f, err := dir.AddFile(r.Context(), data, name, mimeType)
	s.respond(w, r, http.StatusCreated, f, filetree.JoinPath(dirPath, name), err)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request, op string, dir filetree.Directory, dirPath []string) {
	ctx := r.Context()
	var req protocol.TransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	child, err := s.child(r, dir, dirPath, req.Name)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	node, err := s.root.GetFile(ctx, req.Target)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	target, ok := node.(filetree.Directory)
	if !ok {
		s.fail(w, r, 0, filetree.NewPathError(op, req.Target, filetree.ErrInvalidTarget))
		return
	}

	var result filetree.File
	if op == protocol.OpCopy {
		result, err = child.Copy(ctx, target)
	} else {
		result, err = child.Move(ctx, target)
	}
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	s.respond(w, r, http.StatusOK, result, filetree.JoinPath(req.Target, result.Name()), nil)
}

func (s *Server) child(r *http.Request, dir filetree.Directory, dirPath []string, name string) (filetree.File, error) {
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("getfile", filetree.JoinPath(dirPath, name), err)
	}
	return dir.GetFile(r.Context(), []string{name})
}

// respond writes the record of f, or the error of the operation that
// produced it.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, f filetree.File, path []string, err error) {
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	rec, err := s.record(r, f, path)
	if err != nil {
		s.fail(w, r, 0, err)
		return
	}
	s.writeJSON(w, status, rec)
}

func (s *Server) record(r *http.Request, f filetree.File, path []string) (protocol.Record, error) {
	info, err := f.Stat(r.Context())
	if err != nil {
		return protocol.Record{}, err
	}
	return protocol.NewRecord(info, s.baseURL+"/"+filetree.EncodePath(path)), nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

// fail writes err as an ErrorResponse. A zero status is derived from err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := protocol.NewErrorResponse(err)
	if status != 0 {
		resp.Code = status
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.EscapedPath()),
		zap.String("requestID", middleware.GetReqID(r.Context())),
		zap.Int("status", resp.Code),
		zap.Error(err),
	}
	if resp.Code >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request failed", fields...)
	}

	s.writeJSON(w, resp.Code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}
