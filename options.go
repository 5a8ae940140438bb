package filetree

import (
	"context"
)

// Option represents a configuration option for Put
type Option func(*Options)

// Options contains all possible options for Put
type Options struct {
	// ContentType specifies the MIME type of a newly created file.
	// Guessed from name and content when empty.
	ContentType string

	// Overwrite replaces the content of an existing file instead of failing
	// with ErrExist
	Overwrite bool

	// CreateParents creates missing parent directories
	CreateParents bool
}

// WithContentType sets the content type of the file
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithOverwrite enables or disables overwriting existing files
func WithOverwrite(overwrite bool) Option {
	return func(o *Options) {
		o.Overwrite = overwrite
	}
}

// WithCreateParents enables or disables creating missing parent directories
func WithCreateParents(create bool) Option {
	return func(o *Options) {
		o.CreateParents = create
	}
}

// Put stores data at path below dir, creating the file when it does not
// exist yet.
//
//	f, err := filetree.Put(ctx, root, []string{"docs", "a.txt"}, data,
//	    filetree.WithCreateParents(true),
//	    filetree.WithOverwrite(true),
//	)
func Put(ctx context.Context, dir Directory, path []string, data []byte, opts ...Option) (File, error) {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	if len(path) == 0 {
		return nil, NewPathError("put", path, ErrInvalidName)
	}
	name := path[len(path)-1]
	if err := ValidateName(name); err != nil {
		return nil, NewPathError("put", path, err)
	}

	var parent Directory
	if options.CreateParents {
		d, err := MkdirAll(ctx, dir, path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		parent = d
	} else {
		f, err := dir.GetFile(ctx, path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		d, ok := f.(Directory)
		if !ok {
			return nil, NewPathError("put", path[:len(path)-1], ErrNotDir)
		}
		parent = d
	}

	existing, err := findChild(ctx, parent, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, ok := existing.(Directory); ok {
			return nil, NewPathError("put", path, ErrIsDir)
		}
		if !options.Overwrite {
			return nil, NewPathError("put", path, ErrExist)
		}
		if _, err := existing.Write(ctx, data); err != nil {
			return nil, err
		}
		return existing, nil
	}

	mimeType := options.ContentType
	if mimeType == "" {
		mimeType = GuessMimeType(name, data)
	}
	return parent.AddFile(ctx, data, name, mimeType)
}
