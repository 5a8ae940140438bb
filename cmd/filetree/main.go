package main

import (
	"fmt"
	"os"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register drivers
	_ "github.com/gobeaver/filetree/driver/azure"
	_ "github.com/gobeaver/filetree/driver/gcs"
	_ "github.com/gobeaver/filetree/driver/local"
	_ "github.com/gobeaver/filetree/driver/memory"
	_ "github.com/gobeaver/filetree/driver/remote"
	_ "github.com/gobeaver/filetree/driver/s3"
	_ "github.com/gobeaver/filetree/driver/sftp"
	_ "github.com/gobeaver/filetree/driver/zip"
)

type rootOptions struct {
	driver   string
	path     string
	url      string
	zip      string
	logLevel string
	readOnly bool
	noCache  bool
}

var params rootOptions

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "filetree",
	Short: "Browse and serve file trees",
	Long: `filetree presents local disk, object storage (S3, GCS, Azure Blob), SFTP
servers, ZIP archives and remote filetree servers as one tree.

Configuration is read from BEAVER_FILETREE_* environment variables; flags
override it.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	fls := rootCmd.PersistentFlags()
	fls.StringVar(&params.driver, "driver", "", "Backend driver: "+fmt.Sprint(filetree.Drivers()))
	fls.StringVar(&params.path, "path", "", "Base path of the local driver")
	fls.StringVar(&params.url, "url", "", "Base URL of the remote driver")
	fls.StringVar(&params.zip, "zip", "", "Archive path of the zip driver")
	fls.StringVar(&params.logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fls.BoolVar(&params.readOnly, "read-only", false, "Reject every mutation")
	fls.BoolVar(&params.noCache, "no-cache", false, "Disable the read-through cache")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*filetree.Config, error) {
	cfg, err := filetree.GetConfig()
	if err != nil {
		return nil, err
	}
	fls := cmd.Flags()
	if fls.Changed("driver") {
		cfg.Driver = params.driver
	}
	if fls.Changed("path") {
		cfg.LocalBasePath = params.path
	}
	if fls.Changed("url") {
		cfg.RemoteURL = params.url
	}
	if fls.Changed("zip") {
		cfg.ZipPath = params.zip
	}
	if fls.Changed("log-level") {
		cfg.LogLevel = params.logLevel
	}
	if fls.Changed("read-only") {
		cfg.ReadOnly = params.readOnly
	}
	if fls.Changed("no-cache") {
		cfg.CacheEnabled = !params.noCache
	}
	return cfg, nil
}

// openTree builds the tree described by the environment and flags. Cache
// metrics are only registered when metrics is set.
func openTree(cmd *cobra.Command, metrics bool, opts ...filetree.TreeOption) (*filetree.Tree, *filetree.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.GetLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.MetricsEnabled = cfg.MetricsEnabled && metrics
	tree, err := filetree.New(cfg, append([]filetree.TreeOption{filetree.WithTreeLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, nil, err
	}
	return tree, cfg, logger, nil
}
