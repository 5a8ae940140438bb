package filetree

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is returned when stored content cannot be decrypted with the
// view's key.
var ErrDecrypt = errors.New("cannot decrypt content")

// sealer encrypts whole file contents with AES-256-GCM. Stored content is the
// nonce followed by the sealed plaintext.
type sealer struct {
	gcm cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{gcm: gcm}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize(), s.gcm.NonceSize()+len(plain)+s.gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	n := s.gcm.NonceSize()
	if len(sealed) < n+s.gcm.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := s.gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// overhead is the number of bytes sealing adds to a file.
func (s *sealer) overhead() int64 {
	return int64(s.gcm.NonceSize() + s.gcm.Overhead())
}

// ============================================================================
// Encrypted view
// ============================================================================

// NewEncrypted returns a view of dir whose file contents are stored
// encrypted with AES-256-GCM under key, which must be 32 bytes. Reads through
// the view decrypt; reads of the backend directly return ciphertext. Names
// and directory structure are stored in the clear.
func NewEncrypted(dir Directory, key []byte) (Directory, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return newEncrypted(dir, s, nil).(Directory), nil
}

func newEncrypted(f File, s *sealer, path []string) File {
	switch t := f.(type) {
	case Directory:
		d := &encryptedDirectory{DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}}, s: s, path: path}
		d.dir = t
		d.attach(t, d)
		return d
	default:
		e := &encryptedFile{Proxy: &Proxy{}, s: s, path: path}
		e.attach(f, e)
		return e
	}
}

// sameView returns the backend directory of target when it belongs to a view
// sealed with s, so ciphertext can move between them unchanged. Transparent
// wrappers such as a cache are looked through.
func sameView(target Directory, s *sealer) (Directory, bool) {
	var f File = target
	for f != nil {
		if d, ok := f.(*encryptedDirectory); ok {
			return d.dir, d.s == s
		}
		u, ok := f.(Unwrapper)
		if !ok {
			break
		}
		f = u.Unwrap()
	}
	return nil, false
}

type encryptedFile struct {
	*Proxy
	s    *sealer
	path []string
}

// Unwrap returns nil; a native copy into the backend would skip sealing.
func (e *encryptedFile) Unwrap() File { return nil }

func (e *encryptedFile) OnChange(fn Listener) (unregister func()) {
	return e.target.OnChange(func(File) { fn(e) })
}

func (e *encryptedFile) Stat(ctx context.Context) (*Info, error) {
	info, err := e.target.Stat(ctx)
	if err != nil {
		return nil, err
	}
	out := *info
	if out.Size >= e.s.overhead() {
		out.Size -= e.s.overhead()
	}
	return &out, nil
}

func (e *encryptedFile) Read(ctx context.Context) ([]byte, error) {
	sealed, err := e.target.Read(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := e.s.open(sealed)
	if err != nil {
		return nil, NewPathError("read", e.path, err)
	}
	return plain, nil
}

func (e *encryptedFile) Write(ctx context.Context, data []byte) ([]byte, error) {
	sealed, err := e.s.seal(data)
	if err != nil {
		return nil, err
	}
	if _, err := e.target.Write(ctx, sealed); err != nil {
		return nil, err
	}
	return data, nil
}

func (e *encryptedFile) Copy(ctx context.Context, target Directory) (File, error) {
	if dir, ok := sameView(target, e.s); ok {
		f, err := e.target.Copy(ctx, dir)
		if err != nil {
			return nil, err
		}
		return newEncrypted(f, e.s, nil), nil
	}
	return CopyTo(ctx, e, target)
}

func (e *encryptedFile) Move(ctx context.Context, target Directory) (File, error) {
	if dir, ok := sameView(target, e.s); ok {
		f, err := e.target.Move(ctx, dir)
		if err != nil {
			return nil, err
		}
		return newEncrypted(f, e.s, nil), nil
	}
	return MoveTo(ctx, e, target)
}

type encryptedDirectory struct {
	*DirectoryProxy
	s    *sealer
	path []string
}

func (e *encryptedDirectory) Unwrap() File { return nil }

func (e *encryptedDirectory) OnChange(fn Listener) (unregister func()) {
	return e.dir.OnChange(func(File) { fn(e) })
}

func (e *encryptedDirectory) Copy(ctx context.Context, target Directory) (File, error) {
	if dir, ok := sameView(target, e.s); ok {
		f, err := e.dir.Copy(ctx, dir)
		if err != nil {
			return nil, err
		}
		return newEncrypted(f, e.s, nil), nil
	}
	return CopyTo(ctx, e, target)
}

func (e *encryptedDirectory) Move(ctx context.Context, target Directory) (File, error) {
	if dir, ok := sameView(target, e.s); ok {
		f, err := e.dir.Move(ctx, dir)
		if err != nil {
			return nil, err
		}
		return newEncrypted(f, e.s, nil), nil
	}
	return MoveTo(ctx, e, target)
}

func (e *encryptedDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	if mimeType == "" {
		mimeType = GuessMimeType(name, data)
	}
	sealed, err := e.s.seal(data)
	if err != nil {
		return nil, err
	}
	f, err := e.dir.AddFile(ctx, sealed, name, mimeType)
	if err != nil {
		return nil, err
	}
	return newEncrypted(f, e.s, JoinPath(e.path, name)), nil
}

func (e *encryptedDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	d, err := e.dir.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	return newEncrypted(d, e.s, JoinPath(e.path, name)).(Directory), nil
}

func (e *encryptedDirectory) Children(ctx context.Context) ([]File, error) {
	children, err := e.dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]File, len(children))
	for i, child := range children {
		out[i] = newEncrypted(child, e.s, JoinPath(e.path, child.Name()))
	}
	return out, nil
}

func (e *encryptedDirectory) GetFile(ctx context.Context, path []string) (File, error) {
	f, err := e.dir.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return e, nil
	}
	return newEncrypted(f, e.s, JoinPath(e.path, path...)), nil
}

func (e *encryptedDirectory) Search(ctx context.Context, query string) ([]SearchResult, error) {
	results, err := e.dir.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].File = newEncrypted(results[i].File, e.s, JoinPath(e.path, results[i].Path...))
	}
	return results, nil
}

var (
	_ File      = (*encryptedFile)(nil)
	_ Directory = (*encryptedDirectory)(nil)
)
