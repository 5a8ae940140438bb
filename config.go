package filetree

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

// DefaultListenAddr is used by the server when ListenAddr is empty.
const DefaultListenAddr = "127.0.0.1:8080"

type Config struct {
	// Backend driver (memory, local, remote, s3, gcs, azure, sftp, zip)
	Driver string `env:"FILETREE_DRIVER,default:memory"`

	// Local driver configuration
	LocalBasePath string `env:"FILETREE_LOCAL_BASE_PATH,default:./storage"`
	LocalWatch    bool   `env:"FILETREE_LOCAL_WATCH,default:false"` // watch the backend for external changes

	// Remote driver configuration
	RemoteURL            string `env:"FILETREE_REMOTE_URL"`
	RemoteTimeoutSeconds int    `env:"FILETREE_REMOTE_TIMEOUT_SECONDS,default:30"`

	// S3 driver configuration
	S3Region          string `env:"FILETREE_S3_REGION,default:us-east-1"`
	S3Bucket          string `env:"FILETREE_S3_BUCKET"`
	S3Prefix          string `env:"FILETREE_S3_PREFIX"`
	S3Endpoint        string `env:"FILETREE_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"FILETREE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"FILETREE_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"FILETREE_S3_FORCE_PATH_STYLE,default:false"`

	// GCS driver configuration
	GCSBucket          string `env:"FILETREE_GCS_BUCKET"`
	GCSPrefix          string `env:"FILETREE_GCS_PREFIX"`
	GCSCredentialsFile string `env:"FILETREE_GCS_CREDENTIALS_FILE"` // service account JSON

	// Azure Blob Storage driver configuration
	AzureAccountName   string `env:"FILETREE_AZURE_ACCOUNT_NAME"`
	AzureAccountKey    string `env:"FILETREE_AZURE_ACCOUNT_KEY"`
	AzureContainerName string `env:"FILETREE_AZURE_CONTAINER_NAME"`
	AzurePrefix        string `env:"FILETREE_AZURE_PREFIX"`
	AzureEndpoint      string `env:"FILETREE_AZURE_ENDPOINT"`

	// SFTP driver configuration
	SFTPHost       string `env:"FILETREE_SFTP_HOST"`
	SFTPPort       int    `env:"FILETREE_SFTP_PORT,default:22"`
	SFTPUsername   string `env:"FILETREE_SFTP_USERNAME"`
	SFTPPassword   string `env:"FILETREE_SFTP_PASSWORD"`
	SFTPPrivateKey string `env:"FILETREE_SFTP_PRIVATE_KEY"` // path to a private key file
	SFTPHostKey    string `env:"FILETREE_SFTP_HOST_KEY"`    // authorized_keys line; empty skips host verification
	SFTPBasePath   string `env:"FILETREE_SFTP_BASE_PATH"`

	// Zip driver configuration
	ZipPath string `env:"FILETREE_ZIP_PATH"`

	// Content validation, applied when any limit is set
	MaxFileSize       int64  `env:"FILETREE_MAX_FILE_SIZE,default:0"`
	AllowedMimeTypes  string `env:"FILETREE_ALLOWED_MIME_TYPES"` // comma-separated
	AllowedExtensions string `env:"FILETREE_ALLOWED_EXTENSIONS"` // comma-separated
	BlockedExtensions string `env:"FILETREE_BLOCKED_EXTENSIONS"` // comma-separated

	// Encryption at rest
	EncryptionKey string `env:"FILETREE_ENCRYPTION_KEY"` // base64, 32 bytes once decoded

	// Tree composition
	RootName            string `env:"FILETREE_ROOT_NAME"`
	ReadOnly            bool   `env:"FILETREE_READ_ONLY,default:false"`
	CacheEnabled        bool   `env:"FILETREE_CACHE_ENABLED,default:true"`
	PollIntervalSeconds int    `env:"FILETREE_POLL_INTERVAL_SECONDS,default:0"` // 0 disables polling

	// Logging and serving
	LogLevel       string `env:"FILETREE_LOG_LEVEL,default:info"`
	ListenAddr     string `env:"FILETREE_LISTEN_ADDR"`
	MetricsEnabled bool   `env:"FILETREE_METRICS_ENABLED,default:true"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RemoteTimeout returns the remote request timeout as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	if c.RemoteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RemoteTimeoutSeconds) * time.Second
}

// PollInterval returns the cache polling interval, zero when disabled.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Addr returns ListenAddr or the default listen address.
func (c *Config) Addr() string {
	if c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return c.ListenAddr
}

// Constraints returns the validation constraints described by the config and
// whether any is set.
func (c *Config) Constraints() (Constraints, bool) {
	cons := Constraints{
		MaxFileSize:   c.MaxFileSize,
		AcceptedTypes: splitList(c.AllowedMimeTypes),
		AllowedExts:   splitList(c.AllowedExtensions),
		BlockedExts:   splitList(c.BlockedExtensions),
	}
	set := cons.MaxFileSize > 0 || len(cons.AcceptedTypes) > 0 || len(cons.AllowedExts) > 0 || len(cons.BlockedExts) > 0
	return cons, set
}

// Key decodes EncryptionKey. It returns nil when encryption is off.
func (c *Config) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
