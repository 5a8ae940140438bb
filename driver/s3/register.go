package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

func init() {
	filetree.RegisterDriver("s3", func(cfg *filetree.Config) (filetree.Directory, error) {
		client, err := newClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}

		var opts []StoreOption
		if cfg.S3Prefix != "" {
			opts = append(opts, WithPrefix(cfg.S3Prefix))
		}
		name := cfg.RootName
		if name == "" {
			name = cfg.S3Bucket
		}
		return object.New(New(client, cfg.S3Bucket, opts...), object.WithName(name)).Root(), nil
	})
}

// newClient creates an S3 client from config
func newClient(cfg *filetree.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, err
	}

	// Override with explicit credentials if provided
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	}), nil
}
