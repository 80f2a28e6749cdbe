package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/narrowin/networka-sub002/internal/device"
	"github.com/narrowin/networka-sub002/internal/logging"
)

// Factory creates an unconnected session for a device. The executor uses it
// so tests can substitute fake transports.
type Factory func(name string, dev *device.Config) Session

// NewSSHFactory returns a factory producing SSH-backed sessions.
func NewSSHFactory(logger *logging.Logger) Factory {
	return func(name string, dev *device.Config) Session {
		return NewSSH(name, dev, logger)
	}
}

// SSHSession implements Session over golang.org/x/crypto/ssh.
type SSHSession struct {
	name   string
	dev    *device.Config
	logger *logging.Logger

	mu    sync.Mutex
	state State
	conn  *ssh.Client
}

// NewSSH creates an unconnected SSH session for a device.
func NewSSH(name string, dev *device.Config, logger *logging.Logger) *SSHSession {
	return &SSHSession{
		name:   name,
		dev:    dev,
		logger: logger,
		state:  Unconnected,
	}
}

// Device returns the device name this session is bound to
func (s *SSHSession) Device() string {
	return s.name
}

// State returns the current lifecycle state
func (s *SSHSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the SSH connection to the device.
func (s *SSHSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	startTime := time.Now()

	config, err := s.buildSSHConfig()
	if err != nil {
		s.setState(Unconnected)
		return fmt.Errorf("failed to build SSH config for %s: %w", s.name, err)
	}

	address := s.dev.Address()
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		s.setState(Unconnected)
		if s.logger != nil {
			s.logger.LogSessionError(s.name, s.dev.Host, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		s.setState(Unconnected)
		if s.logger != nil {
			s.logger.LogSessionError(s.name, s.dev.Host, err)
		}
		return fmt.Errorf("SSH handshake failed for %s: %w", address, err)
	}

	s.mu.Lock()
	s.conn = ssh.NewClient(sshConn, chans, reqs)
	s.state = Connected
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogSessionOpen(s.name, s.dev.Host, time.Since(startTime))
	}

	return nil
}

// Disconnect terminates the SSH connection. Safe to call more than once.
func (s *SSHSession) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Closed
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection to %s: %w", s.name, err)
	}
	return nil
}

// ExecuteCommand runs a command on the device and returns combined stdout.
// Stderr content is folded into the error on failure.
func (s *SSHSession) ExecuteCommand(ctx context.Context, command string) (string, error) {
	conn := s.connection()
	if conn == nil {
		return "", fmt.Errorf("session for %s is not connected", s.name)
	}

	sess, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session on %s: %w", s.name, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return stdout.String(), fmt.Errorf("command exited %d on %s: %s",
					exitErr.ExitStatus(), s.name, firstLine(stderr.String()))
			}
			return stdout.String(), fmt.Errorf("execution failed on %s: %w", s.name, err)
		}
		return stdout.String(), nil

	case <-ctx.Done():
		// Best effort: signal the remote command, then abandon the session.
		sess.Signal(ssh.SIGTERM)
		return stdout.String(), fmt.Errorf("command timeout on %s: %w", s.name, ctx.Err())
	}
}

// DownloadFile copies a remote file to a local path over SFTP.
func (s *SSHSession) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("session for %s is not connected", s.name)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("failed to open sftp channel on %s: %w", s.name, err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s on %s: %w", remotePath, s.name, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory for %s: %w", localPath, err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to download %s from %s: %w", remotePath, s.name, err)
	}
	return nil
}

// UploadFile copies a local file to a remote path over SFTP.
func (s *SSHSession) UploadFile(ctx context.Context, localPath, remotePath string) error {
	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("session for %s is not connected", s.name)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("failed to open sftp channel on %s: %w", s.name, err)
	}
	defer client.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s on %s: %w", remotePath, s.name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", localPath, s.name, err)
	}
	return nil
}

func (s *SSHSession) connection() *ssh.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *SSHSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// buildSSHConfig creates an SSH client configuration with authentication methods
func (s *SSHSession) buildSSHConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            s.dev.User,
		HostKeyCallback: s.getHostKeyCallback(),
		Timeout:         30 * time.Second,
	}

	authMethods, err := s.getAuthMethods()
	if err != nil {
		return nil, fmt.Errorf("failed to set up authentication: %w", err)
	}
	config.Auth = authMethods

	return config, nil
}

// getAuthMethods returns available authentication methods in order of preference
func (s *SSHSession) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	// 1. SSH agent
	if agentAuth := getAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	// 2. Identity file from the device record
	if s.dev.IdentityFile != "" {
		keyAuth, err := getKeyAuth(s.dev.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity file %s: %w", s.dev.IdentityFile, err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	// 3. Password, common for network gear without key support
	if s.dev.Password != "" {
		authMethods = append(authMethods, ssh.Password(s.dev.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available for %s", s.name)
	}

	return authMethods, nil
}

// getAgentAuth returns SSH agent authentication if available
func getAgentAuth() ssh.AuthMethod {
	if agentConn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK")); err == nil {
		return ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers)
	}
	return nil
}

// getKeyAuth returns public key authentication using the specified private key file
func getKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// getHostKeyCallback returns a host key callback that tries known_hosts
// first, then falls back to a warning-based insecure callback. Network labs
// regularly rebuild devices, so strict checking is opt-in via known_hosts.
func (s *SSHSession) getHostKeyCallback() ssh.HostKeyCallback {
	if homeDir, err := os.UserHomeDir(); err == nil {
		knownHostsFile := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(knownHostsFile); err == nil {
			if hostKeyCallback, err := knownhosts.New(knownHostsFile); err == nil {
				return hostKeyCallback
			}
		}
	}

	if hostKeyCallback, err := knownhosts.New("/etc/ssh/ssh_known_hosts"); err == nil {
		return hostKeyCallback
	}

	return ssh.HostKeyCallback(func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if s.logger != nil {
			s.logger.Warn("host key verification disabled", "host", hostname)
		}
		return nil
	})
}

// firstLine trims output down to its first line for error messages.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
