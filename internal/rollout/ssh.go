package rollout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"alorg/internal/runner"
)

// SSHOptions configures an [SSHRunner].
type SSHOptions struct {
	// User is the login for addresses without user@. Empty falls back to $USER.
	User string

	// Port is used for addresses without :port. Zero means 22.
	Port int

	// KeyPath is a private key file. Optional when an agent is available.
	KeyPath string

	// KnownHosts is the known_hosts file. Empty means ~/.ssh/known_hosts.
	KnownHosts string

	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool

	// ConnectTimeout bounds dial and handshake. Zero means 10s.
	ConnectTimeout time.Duration

	// Verbose connects remote stdout/stderr to the runner's writers.
	Verbose bool

	// Signers and HostKeyCallback override key and known_hosts loading.
	Signers         []ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
}

// SSHRunner executes steps on [runner.Step.Target] over an SSH session.
//
// Each Run opens its own connection, so one SSHRunner serves many concurrent
// rollouts. Create with [NewSSHRunner] and Close it to release the agent
// connection.
type SSHRunner struct {
	Stdout io.Writer
	Stderr io.Writer

	opts      SSHOptions
	auth      []ssh.AuthMethod
	hostKeys  ssh.HostKeyCallback
	agentConn net.Conn
	logger    *slog.Logger
}

// NewSSHRunner resolves credentials and host key verification for opts.
//
// Auth methods are tried in order: explicit Signers, KeyPath, then the agent
// at SSH_AUTH_SOCK. It is an error if none is available.
func NewSSHRunner(opts SSHOptions, logger *slog.Logger) (*SSHRunner, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.User == "" {
		opts.User = os.Getenv("USER")
	}

	r := &SSHRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		opts:   opts,
		logger: logger,
	}

	if len(opts.Signers) > 0 {
		r.auth = append(r.auth, ssh.PublicKeys(opts.Signers...))
	}

	if opts.KeyPath != "" {
		key, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse SSH private key: %w", err)
		}
		r.auth = append(r.auth, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			logger.Warn("ssh agent unavailable", "socket", sock, "error", err)
		} else {
			r.agentConn = conn
			r.auth = append(r.auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(r.auth) == 0 {
		return nil, errors.New("no SSH credentials: set ssh.key_path or run an ssh agent")
	}

	hostKeys, err := resolveHostKeys(opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.hostKeys = hostKeys

	return r, nil
}

func resolveHostKeys(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.HostKeyCallback != nil {
		return opts.HostKeyCallback, nil
	}
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := opts.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// Close releases the agent connection, if any.
func (r *SSHRunner) Close() error {
	if r.agentConn != nil {
		err := r.agentConn.Close()
		r.agentConn = nil
		return err
	}
	return nil
}

// Run executes step.Program with step.Args on step.Target.
//
// Dial, handshake and session failures are reported as [*runner.SpawnError];
// a remote non-zero exit as [*runner.StepFailedError] with the remote status.
func (r *SSHRunner) Run(ctx context.Context, step runner.Step) error {
	if step.Target == "" {
		return &runner.SpawnError{Step: step, Err: errors.New("no target host")}
	}

	user, addr := ParseAddress(step.Target, r.opts.User, r.opts.Port)
	logger := r.logger.With("step", step.String(), "addr", addr)

	client, err := r.dial(ctx, user, addr)
	if err != nil {
		return &runner.SpawnError{Step: step, Err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return &runner.SpawnError{Step: step, Err: fmt.Errorf("create SSH session: %w", err)}
	}
	defer session.Close()

	if step.StdinPath != "" {
		stdin, err := os.Open(step.StdinPath)
		if err != nil {
			return &runner.SpawnError{Step: step, Err: err}
		}
		defer stdin.Close()
		session.Stdin = stdin
	}

	if r.verbose(step) {
		session.Stdout = r.Stdout
		session.Stderr = r.Stderr
	}

	command := ShellJoin(append([]string{step.Program}, step.Args...))
	logger.Debug("running remote command", "command", command)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		return &runner.StepFailedError{Step: step, ExitCode: -1, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &runner.StepFailedError{Step: step, ExitCode: exitErr.ExitStatus(), Err: err}
		}
		return &runner.StepFailedError{Step: step, ExitCode: -1, Err: err}
	}
}

func (r *SSHRunner) verbose(step runner.Step) bool {
	switch step.Visibility {
	case runner.VisibilityVerbose:
		return true
	case runner.VisibilityQuiet:
		return false
	default:
		return r.opts.Verbose
	}
}

func (r *SSHRunner) dial(ctx context.Context, user, addr string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            r.auth,
		HostKeyCallback: r.hostKeys,
		Timeout:         r.opts.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: r.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(r.opts.ConnectTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	// the deadline only covers the handshake; sessions may run for minutes
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// ParseAddress splits an ssh-style server address into login and host:port.
//
// Accepted forms: host, user@host, host:port, user@host:port, [v6]:port and
// bare IPv6 literals.
func ParseAddress(server, defaultUser string, defaultPort int) (user, addr string) {
	user = defaultUser
	hostport := server
	if i := strings.LastIndex(server, "@"); i >= 0 {
		user = server[:i]
		hostport = server[i+1:]
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = strings.Trim(hostport, "[]")
		port = strconv.Itoa(defaultPort)
	}
	return user, net.JoinHostPort(host, port)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellJoin quotes args for a POSIX remote shell.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if shellSafe.MatchString(a) {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
