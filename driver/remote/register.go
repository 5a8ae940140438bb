package remote

import "github.com/gobeaver/filetree"

func init() {
	filetree.RegisterDriver("remote", func(cfg *filetree.Config) (filetree.Directory, error) {
		opts := []Option{WithTimeout(cfg.RemoteTimeout())}
		if cfg.RootName != "" {
			opts = append(opts, WithName(cfg.RootName))
		}
		fs, err := New(cfg.RemoteURL, opts...)
		if err != nil {
			return nil, err
		}
		return fs.Root(), nil
	})
}
