// Package mcpbridge exposes a narrow slice of the Session Host API as MCP
// tools, so an external coding agent can open, drive, and tear down
// terminal sessions through the same Manager the desktop UI uses (§4.1:
// "open_local, open_ssh, write, resize, close, ... list_sessions").
package mcpbridge

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/deskterm/deskterm/internal/session"
)

// Server wraps an MCP server bound to a single Session Host.
type Server struct {
	mcp     *server.MCPServer
	manager *session.Manager
}

// New registers every tool against manager and returns an unstarted
// Server; the caller picks the transport (stdio, SSE, ...).
func New(manager *session.Manager) *Server {
	s := &Server{
		mcp:     server.NewMCPServer("deskterm", "1.0.0"),
		manager: manager,
	}
	s.registerTools()
	return s
}

// ServeStdio runs the MCP server over stdin/stdout and blocks until that
// transport shuts down, the shape an external agent process expects when it spawns this binary
// as a tool provider.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("open_local",
		mcp.WithDescription("Open a local PTY session running the given shell"),
		mcp.WithString("shell", mcp.Description("Shell to run; defaults to $SHELL")),
		mcp.WithString("cwd", mcp.Description("Working directory")),
	), s.openLocal)

	s.mcp.AddTool(mcp.NewTool("open_ssh",
		mcp.WithDescription("Open an SSH session"),
		mcp.WithString("host", mcp.Required(), mcp.Description("Remote host")),
		mcp.WithNumber("port", mcp.Description("Remote port, defaults to 22")),
		mcp.WithString("username", mcp.Required(), mcp.Description("Remote username")),
		mcp.WithString("password", mcp.Description("Password auth (used if no key given)")),
		mcp.WithString("privateKey", mcp.Description("PEM-encoded private key, preferred over password")),
	), s.openSsh)

	s.mcp.AddTool(mcp.NewTool("write",
		mcp.WithDescription("Write bytes to a session's input"),
		mcp.WithString("sessionId", mcp.Required()),
		mcp.WithString("data", mcp.Required(), mcp.Description("Bytes to write, as a UTF-8 string")),
	), s.write)

	s.mcp.AddTool(mcp.NewTool("resize",
		mcp.WithDescription("Resize a session's PTY window"),
		mcp.WithString("sessionId", mcp.Required()),
		mcp.WithNumber("cols", mcp.Required()),
		mcp.WithNumber("rows", mcp.Required()),
	), s.resize)

	s.mcp.AddTool(mcp.NewTool("close",
		mcp.WithDescription("Close a session"),
		mcp.WithString("sessionId", mcp.Required()),
	), s.close)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List all registered sessions and their status"),
	), s.listSessions)
}

func (s *Server) openLocal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shell := req.GetString("shell", "")
	cwd := req.GetString("cwd", "")
	sess, err := s.manager.OpenLocal(session.LocalConfig{Shell: shell, Cwd: cwd})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(sess.ID), nil
}

func (s *Server) openSsh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	host, err := req.RequireString("host")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	username, err := req.RequireString("username")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	port := int(req.GetFloat("port", 22))

	sess, err := s.manager.OpenSsh(ctx, session.SshConfig{
		Host:       host,
		Port:       port,
		Username:   username,
		Password:   req.GetString("password", ""),
		PrivateKey: req.GetString("privateKey", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(sess.ID), nil
}

func (s *Server) write(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.manager.Write(sessionID, []byte(data)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) resize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cols := int(req.GetFloat("cols", 80))
	rows := int(req.GetFloat("rows", 24))
	if err := s.manager.Resize(sessionID, uint16(cols), uint16(rows)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) close(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.manager.Close(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var lines string
	for _, sess := range s.manager.List() {
		info := sess.Info()
		lines += fmt.Sprintf("%s\t%s\t%s\n", info.ID, info.Kind, info.Status)
	}
	return mcp.NewToolResultText(lines), nil
}
