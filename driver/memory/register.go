package memory

import "github.com/gobeaver/filetree"

func init() {
	filetree.RegisterDriver("memory", func(cfg *filetree.Config) (filetree.Directory, error) {
		var opts []Option
		if cfg.RootName != "" {
			opts = append(opts, WithName(cfg.RootName))
		}
		return New(opts...).Root(), nil
	})
}
