// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures an SSH transport.
type SSHConfig struct {
	// User is the remote login name.
	User string

	// Port is the SSH port; 0 means 22.
	Port int

	// Network selects the dial family: "tcp", "tcp4", or "tcp6".
	// Empty means "tcp".
	Network string

	// KnownHostsPath is the known_hosts file used to verify the remote
	// host key. Required: there is no insecure fallback.
	KnownHostsPath string

	// KeyFile is an unencrypted private key file used when no agent is
	// reachable. Optional when an agent is available.
	KeyFile string

	// DropDir is the remote directory files are delivered into.
	DropDir string

	// Timeout bounds the TCP dial and SSH handshake; 0 means 30s.
	Timeout time.Duration
}

// SSH is a Transport delivering files over an SSH connection using the
// scp sink protocol. One connection per host; each Send runs in its
// own session.
type SSH struct {
	client  *ssh.Client
	dropDir string
}

// DialSSH opens an SSH connection to address (a host name or literal
// address, without port) and returns a transport delivering into
// cfg.DropDir.
//
// Authentication prefers a running ssh-agent (SSH_AUTH_SOCK); when no
// agent is reachable, cfg.KeyFile is loaded. Host keys are verified
// against cfg.KnownHostsPath.
func DialSSH(ctx context.Context, address string, cfg SSHConfig) (*SSH, error) {
	if cfg.DropDir == "" {
		return nil, fmt.Errorf("transport: no drop directory configured")
	}
	if cfg.KnownHostsPath == "" {
		return nil, fmt.Errorf("transport: no known_hosts file configured")
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts %s: %w", cfg.KnownHostsPath, err)
	}
	auth, err := authMethods(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	network := cfg.Network
	if network == "" {
		network = "tcp"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	endpoint := net.JoinHostPort(address, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, network, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}
	sshConn, channels, requests, err := ssh.NewClientConn(conn, endpoint, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", endpoint, err)
	}

	return &SSH{
		client:  ssh.NewClient(sshConn, channels, requests),
		dropDir: cfg.DropDir,
	}, nil
}

// authMethods builds the authentication chain: agent first, key file
// second.
func authMethods(keyFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if keyFile != "" {
		keyData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key %s: %w", keyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", keyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("transport: no ssh-agent reachable and no key file configured")
	}
	return methods, nil
}

// Send delivers the local file into the remote drop directory via
// "scp -qt".
func (s *SSH) Send(ctx context.Context, localPath, remoteName string) error {
	if err := checkRemoteName(remoteName); err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stating %s: %w", localPath, err)
	}

	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ssh stdout: %w", err)
	}

	// The session does not take a context; cancel by tearing it down.
	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	command := "scp -qt " + shellQuote(s.dropDir)
	if err := session.Start(command); err != nil {
		return fmt.Errorf("starting remote scp: %w", err)
	}

	sendErr := scpSendFile(stdin, stdout, in, info.Size(), info.Mode().Perm(), remoteName)
	stdin.Close()
	waitErr := session.Wait()
	if sendErr != nil {
		return fmt.Errorf("sending %s: %w", remoteName, sendErr)
	}
	if waitErr != nil {
		return fmt.Errorf("remote scp for %s: %w", remoteName, waitErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Close shuts the SSH connection down.
func (s *SSH) Close() error {
	return s.client.Close()
}

// scpSendFile speaks the scp source side of the sink protocol: wait
// for the sink's ready ack, send the C record, the file bytes, and the
// terminating zero byte, collecting an ack after each step.
func scpSendFile(w io.Writer, r io.Reader, contents io.Reader, size int64, mode os.FileMode, name string) error {
	if err := readAck(r); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode, size, name); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	if _, err := io.CopyN(w, contents, size); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(r)
}

// readAck consumes one scp acknowledgement byte: 0 is success, 1 is a
// warning and 2 a fatal error, each followed by a newline-terminated
// message. Both nonzero codes abort the transfer.
func readAck(r io.Reader) error {
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return fmt.Errorf("reading scp ack: %w", err)
	}
	if code[0] == 0 {
		return nil
	}

	message, err := readLine(r)
	if err != nil {
		return fmt.Errorf("scp error %d", code[0])
	}
	return fmt.Errorf("scp error %d: %s", code[0], message)
}

func readLine(r io.Reader) (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return string(line), err
		}
		if b[0] == '\n' {
			return string(line), nil
		}
		line = append(line, b[0])
	}
}

// shellQuote single-quotes a path for the remote command line. The
// drop directory comes from local configuration, but quoting keeps
// spaces and shell metacharacters inert.
func shellQuote(p string) string {
	quoted := "'"
	for _, r := range path.Clean(p) {
		if r == '\'' {
			quoted += `'\''`
			continue
		}
		quoted += string(r)
	}
	return quoted + "'"
}
