// Package sshprobe verifies that a freshly leased node accepts the issued
// SSH credentials before the renter relies on them.
package sshprobe

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultVerifyTimeout is how long to keep retrying before giving up
	DefaultVerifyTimeout = 2 * time.Minute

	// DefaultCheckInterval is how often to retry the connection
	DefaultCheckInterval = 5 * time.Second

	// DefaultConnectTimeout is the timeout for each connection attempt
	DefaultConnectTimeout = 15 * time.Second

	// probeCommand is run to confirm the account works end to end
	probeCommand = "echo ok"
)

// Result describes the outcome of a probe.
type Result struct {
	Success   bool
	Duration  time.Duration
	Attempts  int
	LastError string
}

// Prober checks SSH reachability of leased nodes with password auth.
type Prober struct {
	verifyTimeout  time.Duration
	checkInterval  time.Duration
	connectTimeout time.Duration
}

// Option configures the Prober
type Option func(*Prober)

// WithVerifyTimeout sets the total probe timeout
func WithVerifyTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.verifyTimeout = d
	}
}

// WithCheckInterval sets the interval between connection attempts
func WithCheckInterval(d time.Duration) Option {
	return func(p *Prober) {
		p.checkInterval = d
	}
}

// WithConnectTimeout sets the timeout for each connection attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.connectTimeout = d
	}
}

// New creates a prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		verifyTimeout:  DefaultVerifyTimeout,
		checkInterval:  DefaultCheckInterval,
		connectTimeout: DefaultConnectTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe retries connecting to host:port with the given password until it
// succeeds or the verify timeout elapses.
func (p *Prober) Probe(ctx context.Context, host string, port int, user, password string) (*Result, error) {
	if host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	start := time.Now()
	deadline := start.Add(p.verifyTimeout)
	attempts := 0
	var lastError string

	for {
		attempts++

		if time.Now().After(deadline) {
			return &Result{
				Success:   false,
				Duration:  time.Since(start),
				Attempts:  attempts,
				LastError: lastError,
			}, fmt.Errorf("ssh probe timeout after %d attempts: %s", attempts, lastError)
		}

		select {
		case <-ctx.Done():
			return &Result{
				Success:   false,
				Duration:  time.Since(start),
				Attempts:  attempts,
				LastError: ctx.Err().Error(),
			}, ctx.Err()
		default:
		}

		err := p.tryConnect(ctx, host, port, user, password)
		if err == nil {
			return &Result{
				Success:  true,
				Duration: time.Since(start),
				Attempts: attempts,
			}, nil
		}
		lastError = err.Error()

		sleep := p.checkInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return &Result{
				Success:   false,
				Duration:  time.Since(start),
				Attempts:  attempts,
				LastError: ctx.Err().Error(),
			}, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tryConnect attempts a single SSH connection and runs the probe command.
func (p *Prober) tryConnect(ctx context.Context, host string, port int, user, password string) error {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // leased workers have dynamic host keys
		Timeout:         p.connectTimeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: p.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake failed: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if err := session.Run(probeCommand); err != nil {
		return fmt.Errorf("probe command failed: %w", err)
	}
	return nil
}
