package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	sshConnectTimeout = 30 * time.Second
	sshKeepAlive      = 60 * time.Second
)

// sshClient wraps a connected *ssh.Client and its interactive shell
// session, exposing the same ReadWriteCloser+Resize shape as the local PTY
// backends so the reader/writer loop in manager.go never branches on Kind.
type sshClient struct {
	client  *ssh.Client
	sess    *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	cfg     SshConfig
	stop    chan struct{}
	stopped bool
}

func (c *sshClient) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshClient) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshClient) Close() error {
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
	var err error
	if c.sess != nil {
		err = c.sess.Close()
	}
	if c.client != nil {
		if cerr := c.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (c *sshClient) Resize(cols, rows uint16) error {
	return c.sess.WindowChange(int(rows), int(cols))
}

// dialSSH opens a TCP connection, performs the handshake and auth, requests
// a PTY, and starts an interactive shell. Private key auth is preferred
// when both a key and a password are present.
func dialSSH(ctx context.Context, cfg SshConfig) (*sshClient, error) {
	auths, err := sshAuthMethods(cfg)
	if err != nil {
		return nil, &ConnectError{Reason: AuthFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshConnectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := net.Dialer{Timeout: sshConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ConnectError{Reason: ConnectTimeout, Host: cfg.Host, Port: cfg.Port, Err: err}
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &ConnectError{Reason: ConnectTimeout, Host: cfg.Host, Port: cfg.Port, Err: err}
		}
		return nil, &ConnectError{Reason: NetworkError, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		reason := HandshakeFailed
		if _, ok := err.(*ssh.PermanentCredentialsError); ok {
			reason = AuthFailed
		}
		return nil, &ConnectError{Reason: reason, Host: cfg.Host, Port: cfg.Port, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &ConnectError{Reason: HandshakeFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, &ConnectError{Reason: HandshakeFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &ConnectError{Reason: HandshakeFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &ConnectError{Reason: HandshakeFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, &ConnectError{Reason: HandshakeFailed, Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	c := &sshClient{
		client: client,
		sess:   sess,
		stdin:  stdin,
		stdout: stdout,
		cfg:    cfg,
		stop:   make(chan struct{}),
	}
	go c.keepAliveLoop()
	return c, nil
}

func (c *sshClient) keepAliveLoop() {
	ticker := time.NewTicker(sshKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@deskterm", true, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func sshAuthMethods(cfg SshConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no credentials supplied")
	}
	return methods, nil
}
