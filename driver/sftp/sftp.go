// Package sftp serves a directory on an SSH server as a filetree. The tree
// is the local backend running over afero's SFTP filesystem.
package sftp

import (
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"

	"github.com/gobeaver/filetree/driver/local"
	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/spf13/afero/sftpfs"
	"golang.org/x/crypto/ssh"
)

// Config holds SFTP connection configuration
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded private key
	HostKey    []byte // authorized_keys format; nil accepts any host key
	BasePath   string
}

// FS is a connected SFTP tree.
type FS struct {
	*local.FS
	conn   *ssh.Client
	client *sftp.Client
}

// clientConfig builds the SSH client configuration for cfg.
func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	if len(cfg.HostKey) > 0 {
		key, _, _, _, err := ssh.ParseAuthorizedKey(cfg.HostKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		sshConfig.HostKeyCallback = ssh.FixedHostKey(key)
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(cfg.Password))
	}

	if len(sshConfig.Auth) == 0 {
		return nil, errors.New("no authentication method provided")
	}
	return sshConfig, nil
}

func address(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Dial connects to the server and returns a tree rooted at cfg.BasePath,
// creating it if needed.
func Dial(cfg Config, opts ...local.Option) (*FS, error) {
	sshConfig, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := ssh.Dial("tcp", address(cfg), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	fs, err := NewWithClient(client, cfg.BasePath, opts...)
	if err != nil {
		client.Close()
		conn.Close()
		return nil, err
	}
	fs.conn = conn
	return fs, nil
}

// NewWithClient creates a tree over an established SFTP session.
func NewWithClient(client *sftp.Client, basePath string, opts ...local.Option) (*FS, error) {
	if basePath == "" {
		wd, err := client.Getwd()
		if err != nil {
			return nil, err
		}
		basePath = wd
	}
	if err := client.MkdirAll(basePath); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	afs := afero.NewBasePathFs(&remoteFs{Fs: sftpfs.New(client), client: client}, basePath)
	name := path.Base(basePath)
	if name == "/" || name == "." {
		name = "sftp"
	}
	opts = append([]local.Option{local.WithName(name)}, opts...)
	return &FS{FS: local.NewWithFs(afs, opts...), client: client}, nil
}

// Close ends the SFTP session and the SSH connection.
func (f *FS) Close() error {
	err := f.client.Close()
	if f.conn != nil {
		if cerr := f.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// remoteFs fills in RemoveAll, which sftpfs leaves unimplemented.
type remoteFs struct {
	afero.Fs
	client *sftp.Client
}

func (r *remoteFs) RemoveAll(name string) error {
	return r.client.RemoveAll(name)
}
