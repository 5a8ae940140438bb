package local

import "github.com/gobeaver/filetree"

func init() {
	filetree.RegisterDriver("local", func(cfg *filetree.Config) (filetree.Directory, error) {
		var opts []Option
		if cfg.RootName != "" {
			opts = append(opts, WithName(cfg.RootName))
		}
		fs, err := New(cfg.LocalBasePath, opts...)
		if err != nil {
			return nil, err
		}
		return fs.Root(), nil
	})
}
