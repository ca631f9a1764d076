// Package transfer copies files onto a leased node over SFTP using the
// lease's SSH credentials.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout is the default timeout for establishing the SSH
// connection.
const DefaultConnectTimeout = 30 * time.Second

// Credentials holds the lease connection details used for transfer.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Validate checks that the credentials have all required fields.
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	return nil
}

// Transfer handles file pushes to a leased node.
type Transfer struct {
	creds          Credentials
	connectTimeout time.Duration
}

// Option configures a Transfer instance
type Option func(*Transfer)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transfer) {
		t.connectTimeout = d
	}
}

// New creates a Transfer for the given lease credentials.
func New(creds Credentials, opts ...Option) *Transfer {
	t := &Transfer{
		creds:          creds,
		connectTimeout: DefaultConnectTimeout,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Upload copies a local file onto the leased node.
func (t *Transfer) Upload(ctx context.Context, localPath, remotePath string) error {
	if localPath == "" {
		return fmt.Errorf("local path cannot be empty")
	}
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}

	localInfo, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if localInfo.IsDir() {
		return fmt.Errorf("local path is a directory, not a file")
	}

	client, err := t.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteDir := filepath.Dir(remotePath)
	if remoteDir != "" && remoteDir != "." && remoteDir != "/" {
		// Parent directories might already exist
		_ = sftpClient.MkdirAll(remoteDir)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, localFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to copy file: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}
}

// connect dials the leased node and authenticates with the lease password.
func (t *Transfer) connect(ctx context.Context) (*ssh.Client, error) {
	if err := t.creds.Validate(); err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User: t.creds.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.creds.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // leased workers have dynamic host keys
		Timeout:         t.connectTimeout,
	}

	addr := net.JoinHostPort(t.creds.Host, fmt.Sprintf("%d", t.creds.Port))

	dialer := net.Dialer{Timeout: t.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake failed: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
