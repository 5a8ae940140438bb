package zip

import (
	"fmt"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

func init() {
	filetree.RegisterDriver("zip", func(cfg *filetree.Config) (filetree.Directory, error) {
		if cfg.ZipPath == "" {
			return nil, fmt.Errorf("zip driver requires a zip path")
		}

		var opts []Option
		if cfg.ReadOnly {
			opts = append(opts, ReadOnly())
		}
		a, err := Open(cfg.ZipPath, opts...)
		if err != nil {
			return nil, err
		}
		name := cfg.RootName
		if name == "" {
			name = archiveName(cfg.ZipPath)
		}
		return object.New(a, object.WithName(name)).Root(), nil
	})
}
