package azure

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

func init() {
	filetree.RegisterDriver("azure", func(cfg *filetree.Config) (filetree.Directory, error) {
		if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
			return nil, fmt.Errorf("azure account name and key are required")
		}

		if cfg.AzureContainerName == "" {
			return nil, fmt.Errorf("azure container name is required")
		}

		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccountName)
		if cfg.AzureEndpoint != "" {
			serviceURL = cfg.AzureEndpoint
		}

		cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}

		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure client: %w", err)
		}

		var opts []StoreOption
		if cfg.AzurePrefix != "" {
			opts = append(opts, WithPrefix(cfg.AzurePrefix))
		}
		name := cfg.RootName
		if name == "" {
			name = cfg.AzureContainerName
		}
		return object.New(New(client, cfg.AzureContainerName, opts...), object.WithName(name)).Root(), nil
	})
}
