package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds connection settings for remote skill execution.
type SSHConfig struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	DialTimeout                 time.Duration
}

// SSH runs children on a remote host. The Spec contract is the same as
// Local's: shell word-splitting, stdin feed, deadline kill, full capture.
// The intent env overlay is best-effort; sshd may reject Setenv unless
// the variable is whitelisted in AcceptEnv, and scripts fall back to
// standard input in that case. As with Local, the deadline timer is
// detached from the caller's context.
type SSH struct {
	Config SSHConfig
}

func (r SSH) Run(_ context.Context, spec Spec) Result {
	start := time.Now()

	client, err := r.dial()
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("spawn failed: %v", err), Elapsed: time.Since(start)}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("spawn failed: %v", err), Elapsed: time.Since(start)}
	}
	defer session.Close()

	_ = session.Setenv(IntentEnv, spec.Stdin)
	for k, v := range spec.Env {
		_ = session.Setenv(k, v)
	}

	session.Stdin = strings.NewReader(spec.Stdin)
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := spec.Command
	if spec.Dir != "" {
		command = "cd " + shellEscape(spec.Dir) + " && " + command
	}

	if err := session.Start(command); err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("spawn failed: %v", err), Elapsed: time.Since(start)}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	var waitErr error
	if spec.Deadline > 0 {
		timer := time.NewTimer(spec.Deadline)
		defer timer.Stop()
		select {
		case waitErr = <-waitCh:
		case <-timer.C:
			_ = session.Signal(ssh.SIGKILL)
			// Closing the session unblocks Wait even when the remote
			// side ignores the signal.
			_ = session.Close()
			<-waitCh
			return Result{
				ExitCode: -1,
				Stdout:   stdout.String(),
				Stderr:   fmt.Sprintf("Execution timed out after %dms", spec.Deadline.Milliseconds()),
				Elapsed:  time.Since(start),
			}
		}
	} else {
		waitErr = <-waitCh
	}

	res := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	if waitErr == nil {
		res.ExitCode = 0
		res.Success = true
		return res
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res
	}

	res.ExitCode = -1
	if res.Stderr == "" {
		res.Stderr = waitErr.Error()
	}
	return res
}

func (r SSH) dial() (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	if r.Config.DialTimeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, r.Config.DialTimeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSH) address() (string, error) {
	host := strings.TrimSpace(r.Config.Host)
	if host == "" {
		return "", fmt.Errorf("executil: ssh host is required")
	}

	if r.Config.Port != "" {
		return net.JoinHostPort(host, r.Config.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (r SSH) clientConfig() (*ssh.ClientConfig, error) {
	if r.Config.User == "" {
		return nil, fmt.Errorf("executil: ssh user is required")
	}

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if r.Config.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := r.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            r.Config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.Config.DialTimeout,
	}, nil
}

func (r SSH) signer() (ssh.Signer, error) {
	if r.Config.KeyPath == "" {
		return nil, fmt.Errorf("executil: ssh key path is required")
	}

	privateKey, err := os.ReadFile(r.Config.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(r.Config.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, r.Config.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (r SSH) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(r.Config.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("executil: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
