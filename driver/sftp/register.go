package sftp

import (
	"fmt"
	"os"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/local"
)

func init() {
	filetree.RegisterDriver("sftp", func(cfg *filetree.Config) (filetree.Directory, error) {
		if cfg.SFTPHost == "" {
			return nil, fmt.Errorf("SFTP host is required")
		}

		sftpConfig := Config{
			Host:     cfg.SFTPHost,
			Port:     cfg.SFTPPort,
			Username: cfg.SFTPUsername,
			Password: cfg.SFTPPassword,
			HostKey:  []byte(cfg.SFTPHostKey),
			BasePath: cfg.SFTPBasePath,
		}

		// Load private key if specified
		if cfg.SFTPPrivateKey != "" {
			keyData, err := os.ReadFile(cfg.SFTPPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key: %w", err)
			}
			sftpConfig.PrivateKey = keyData
		}

		var opts []local.Option
		if cfg.RootName != "" {
			opts = append(opts, local.WithName(cfg.RootName))
		}
		fs, err := Dial(sftpConfig, opts...)
		if err != nil {
			return nil, err
		}
		return fs.Root(), nil
	})
}
