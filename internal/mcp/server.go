// Package mcp implements the MCP (Model Context Protocol) server for passvault.
// AI agents can search and inspect records but never receive a plaintext
// password.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/passvault/pkg/security"
	"github.com/forest6511/passvault/pkg/vault"
)

// PasswordEnv is read when no password is passed in ServerOptions. It is
// unset as soon as it has been read.
const PasswordEnv = "PASSVAULT_PASSWORD"

// ErrNoPassword is returned when neither the options nor the environment
// carry a master password.
var ErrNoPassword = errors.New("no password provided: set " + PasswordEnv + " environment variable")

// Server represents the MCP server for passvault.
type Server struct {
	server  *mcp.Server
	session *vault.Session
	calc    *security.Calculator
	log     *zap.SugaredLogger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Password is the master password for the vault.
	// If empty, the server reads PASSVAULT_PASSWORD.
	Password string

	// Version is reported to clients.
	Version string

	Logger *zap.SugaredLogger
}

// NewServer unlocks v and creates a new MCP server instance over the session.
func NewServer(ctx context.Context, v *vault.Vault, opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	password := opts.Password
	if password == "" {
		password = os.Getenv(PasswordEnv)
		os.Unsetenv(PasswordEnv)
	}
	if password == "" {
		return nil, ErrNoPassword
	}

	session, err := v.Login(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	calc, err := security.NewCalculator()
	if err != nil {
		session.Lock()
		return nil, err
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "passvault",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server:  mcpServer,
		session: session,
		calc:    calc,
		log:     log,
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_search",
		Description: "Search credential records by a case-insensitive substring of name, website, username or category, optionally filtered by category. Returns metadata only, never passwords.",
	}, s.handleRecordSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_get_masked",
		Description: "Get a masked version of a record's password (e.g., '****WXYZ') with its length and strength. Select the record by id or by exact name.",
	}, s.handleRecordGetMasked)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "category_list",
		Description: "List categories with the number of records in each.",
	}, s.handleCategoryList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "security_report",
		Description: "Score password hygiene: weak, empty and reused passwords. Does NOT return passwords.",
	}, s.handleSecurityReport)
}

// Run serves MCP over stdio until ctx is done or the session locks.
func (s *Server) Run(ctx context.Context) error {
	defer s.session.Lock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.session.Done():
			s.log.Infow("vault locked, stopping MCP server")
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the vault.
func (s *Server) Close() error {
	s.session.Lock()
	return nil
}
