package filetree

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Size constants for constraint configuration
const (
	KB = int64(1024)
	MB = KB * 1024
	GB = MB * 1024
)

// ErrRejected is wrapped by every *ValidationError.
var ErrRejected = errors.New("content rejected")

// ValidationErrorType categorizes a validation failure.
type ValidationErrorType string

const (
	ErrorTypeSize      ValidationErrorType = "size"
	ErrorTypeMIME      ValidationErrorType = "mime"
	ErrorTypeFileName  ValidationErrorType = "filename"
	ErrorTypeExtension ValidationErrorType = "extension"
)

// ValidationError reports why content or a name was rejected.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error: %s", e.Type, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrRejected
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Constraints defines what a validated view accepts.
type Constraints struct {
	// MaxFileSize is the maximum content size in bytes. 0 means no limit.
	MaxFileSize int64

	// MinFileSize is the minimum content size in bytes.
	MinFileSize int64

	// AcceptedTypes lists allowed MIME types. Groups like "image/*" are
	// supported. Empty accepts every type.
	AcceptedTypes []string

	// AllowedExts lists allowed extensions including the dot. Empty allows
	// every extension not in BlockedExts.
	AllowedExts []string

	// BlockedExts are rejected regardless of AllowedExts.
	BlockedExts []string

	// MaxNameLength limits node names. 0 means no limit.
	MaxNameLength int

	// RequireExtension rejects file names without an extension.
	RequireExtension bool
}

// DefaultConstraints creates a new set of constraints with sensible defaults
func DefaultConstraints() Constraints {
	return Constraints{
		MaxFileSize:   10 * MB,
		MaxNameLength: 255,
		BlockedExts:   []string{".exe", ".bat", ".cmd", ".sh", ".php", ".phtml", ".pl", ".cgi", ".dll", ".com", ".jar", ".pif", ".vb", ".vbs", ".ps1", ".scf", ".lnk", ".inf", ".reg"},
	}
}

// ImageOnlyConstraints accepts image files only.
func ImageOnlyConstraints() Constraints {
	c := DefaultConstraints()
	c.AcceptedTypes = []string{"image/*"}
	c.AllowedExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".tiff", ".tif"}
	c.RequireExtension = true
	return c
}

func (c Constraints) checkName(name string, dir bool) error {
	if c.MaxNameLength > 0 && len(name) > c.MaxNameLength {
		return &ValidationError{Type: ErrorTypeFileName, Message: fmt.Sprintf("name too long: %d characters (max: %d)", len(name), c.MaxNameLength)}
	}
	if dir {
		return nil
	}

	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		if c.RequireExtension {
			return &ValidationError{Type: ErrorTypeExtension, Message: fmt.Sprintf("file %q has no extension", name)}
		}
		return nil
	}
	for _, blocked := range c.BlockedExts {
		if ext == strings.ToLower(blocked) {
			return &ValidationError{Type: ErrorTypeExtension, Message: fmt.Sprintf("extension %s is blocked", ext)}
		}
	}
	if len(c.AllowedExts) > 0 {
		for _, allowed := range c.AllowedExts {
			if ext == strings.ToLower(allowed) {
				return nil
			}
		}
		return &ValidationError{Type: ErrorTypeExtension, Message: fmt.Sprintf("extension %s is not allowed", ext)}
	}
	return nil
}

func (c Constraints) checkContent(name string, data []byte, mimeType string) error {
	size := int64(len(data))
	if c.MaxFileSize > 0 && size > c.MaxFileSize {
		return &ValidationError{Type: ErrorTypeSize, Message: fmt.Sprintf("file size too big: %d bytes (max: %d bytes)", size, c.MaxFileSize)}
	}
	if size < c.MinFileSize {
		return &ValidationError{Type: ErrorTypeSize, Message: fmt.Sprintf("file size too small: %d bytes (min: %d bytes)", size, c.MinFileSize)}
	}
	if len(c.AcceptedTypes) == 0 {
		return nil
	}

	if mimeType == "" {
		mimeType = GuessMimeType(name, data)
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	for _, accepted := range c.AcceptedTypes {
		if accepted == mimeType {
			return nil
		}
		if group, ok := strings.CutSuffix(accepted, "/*"); ok && strings.HasPrefix(mimeType, group+"/") {
			return nil
		}
	}
	return &ValidationError{Type: ErrorTypeMIME, Message: fmt.Sprintf("type %s is not accepted", mimeType)}
}

// Validate checks a name and content against c.
func (c Constraints) Validate(name string, data []byte, mimeType string) error {
	if err := c.checkName(name, false); err != nil {
		return err
	}
	return c.checkContent(name, data, mimeType)
}

// ============================================================================
// Validated view
// ============================================================================

// NewValidated returns a view of dir that rejects files breaking c. Checks
// run on AddFile, Write and Rename before the backend is called. Nodes copied
// or moved in from outside the view go through AddFile as well.
func NewValidated(dir Directory, c Constraints) Directory {
	return newValidated(dir, &c, nil).(Directory)
}

func newValidated(f File, c *Constraints, path []string) File {
	switch t := f.(type) {
	case Directory:
		d := &validatedDirectory{DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}}, c: c, path: path}
		d.dir = t
		d.attach(t, d)
		return d
	default:
		v := &validatedFile{Proxy: &Proxy{}, c: c, path: path}
		v.attach(f, v)
		return v
	}
}

type validatedFile struct {
	*Proxy
	c    *Constraints
	path []string
}

func (v *validatedFile) Unwrap() File { return nil }

func (v *validatedFile) OnChange(fn Listener) (unregister func()) {
	return v.target.OnChange(func(File) { fn(v) })
}

func (v *validatedFile) Write(ctx context.Context, data []byte) ([]byte, error) {
	if err := v.c.checkContent(v.Name(), data, ""); err != nil {
		return nil, NewPathError("write", v.path, err)
	}
	return v.target.Write(ctx, data)
}

func (v *validatedFile) Rename(ctx context.Context, name string) error {
	if err := v.c.checkName(name, false); err != nil {
		return NewPathError("rename", v.path, err)
	}
	return v.target.Rename(ctx, name)
}

type validatedDirectory struct {
	*DirectoryProxy
	c    *Constraints
	path []string
}

func (v *validatedDirectory) Unwrap() File { return nil }

func (v *validatedDirectory) OnChange(fn Listener) (unregister func()) {
	return v.dir.OnChange(func(File) { fn(v) })
}

func (v *validatedDirectory) Rename(ctx context.Context, name string) error {
	if err := v.c.checkName(name, true); err != nil {
		return NewPathError("rename", v.path, err)
	}
	return v.dir.Rename(ctx, name)
}

func (v *validatedDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	path := JoinPath(v.path, name)
	if err := v.c.Validate(name, data, mimeType); err != nil {
		return nil, NewPathError("addfile", path, err)
	}
	f, err := v.dir.AddFile(ctx, data, name, mimeType)
	if err != nil {
		return nil, err
	}
	return newValidated(f, v.c, path), nil
}

func (v *validatedDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	path := JoinPath(v.path, name)
	if err := v.c.checkName(name, true); err != nil {
		return nil, NewPathError("adddirectory", path, err)
	}
	d, err := v.dir.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	return newValidated(d, v.c, path).(Directory), nil
}

func (v *validatedDirectory) Children(ctx context.Context) ([]File, error) {
	children, err := v.dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]File, len(children))
	for i, child := range children {
		out[i] = newValidated(child, v.c, JoinPath(v.path, child.Name()))
	}
	return out, nil
}

func (v *validatedDirectory) GetFile(ctx context.Context, path []string) (File, error) {
	f, err := v.dir.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return v, nil
	}
	return newValidated(f, v.c, JoinPath(v.path, path...)), nil
}

func (v *validatedDirectory) Search(ctx context.Context, query string) ([]SearchResult, error) {
	results, err := v.dir.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].File = newValidated(results[i].File, v.c, JoinPath(v.path, results[i].Path...))
	}
	return results, nil
}

var (
	_ File      = (*validatedFile)(nil)
	_ Directory = (*validatedDirectory)(nil)
)
