package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
	"google.golang.org/api/option"
)

func init() {
	filetree.RegisterDriver("gcs", func(cfg *filetree.Config) (filetree.Directory, error) {
		// Without a credentials file the client uses GOOGLE_APPLICATION_CREDENTIALS
		// or the default credentials of the environment.
		var clientOpts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		client, err := storage.NewClient(context.Background(), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}

		var opts []StoreOption
		if cfg.GCSPrefix != "" {
			opts = append(opts, WithPrefix(cfg.GCSPrefix))
		}
		name := cfg.RootName
		if name == "" {
			name = cfg.GCSBucket
		}
		return object.New(New(client, cfg.GCSBucket, opts...), object.WithName(name)).Root(), nil
	})
}
