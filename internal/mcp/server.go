package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/tools"
)

// Server represents the MCP server
type Server struct {
	logger   *logrus.Logger
	tools    *tools.Registry
	notifier *Notifier
	version  string
	in       io.Reader
	out      io.Writer
}

// Option customizes a Server
type Option func(*Server)

// WithIO replaces stdin and stdout
func WithIO(in io.Reader, out io.Writer) Option {
	return func(s *Server) {
		s.in = in
		s.out = out
	}
}

// WithVersion sets the version reported to clients
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// NewServer creates a new MCP server instance. notifier may be nil.
func NewServer(deps *tools.Deps, notifier *Notifier, logger *logrus.Logger, opts ...Option) *Server {
	if notifier == nil {
		notifier = NewNotifier(logger)
	}
	s := &Server{
		logger:   logger,
		tools:    tools.NewRegistry(deps),
		notifier: notifier,
		version:  "dev",
		in:       os.Stdin,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	notifier.attach(s.out)
	return s
}

// Run serves requests from the input until EOF or ctx is done
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server with stdio transport")

	decoder := json.NewDecoder(s.in)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req map[string]interface{}
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// The decoder cannot resync after malformed input
				s.write(errorResponse(nil, -32700, "Parse error"))
				return fmt.Errorf("failed to decode request: %w", err)
			}
			s.logger.WithError(err).Error("Failed to decode request")
			continue
		}

		if resp := s.handleRequest(ctx, req); resp != nil {
			s.write(resp)
		}
	}
}

func (s *Server) write(resp map[string]interface{}) {
	if err := s.notifier.write(resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func errorResponse(id interface{}, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}

func resultResponse(id interface{}, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

// handleRequest processes an MCP request. Notifications get no response.
func (s *Server) handleRequest(ctx context.Context, req map[string]interface{}) map[string]interface{} {
	method, _ := req["method"].(string)
	id, hasID := req["id"]

	if !hasID && strings.HasPrefix(method, "notifications/") {
		s.logger.WithField("method", method).Debug("Received notification")
		return nil
	}

	switch method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools":   map[string]interface{}{},
				"logging": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailsync",
				"version": s.version,
			},
		})

	case "ping":
		return resultResponse(id, map[string]interface{}{})

	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		params, _ := req["params"].(map[string]interface{})
		toolName, _ := params["name"].(string)
		arguments, _ := params["arguments"].(map[string]interface{})
		if arguments == nil {
			arguments = map[string]interface{}{}
		}

		tool, exists := s.tools.GetTool(toolName)
		if !exists {
			return errorResponse(id, -32601, fmt.Sprintf("Tool not found: %s", toolName))
		}

		result, err := tool.Execute(ctx, arguments)
		if err != nil {
			s.logger.WithError(err).WithField("tool", toolName).Warn("Tool call failed")
			return resultResponse(id, map[string]interface{}{
				"content": []map[string]interface{}{
					{"type": "text", "text": err.Error()},
				},
				"isError": true,
			})
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			resultJSON = []byte(fmt.Sprintf("%v", result))
		}

		return resultResponse(id, map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(resultJSON),
				},
			},
		})
	}

	return errorResponse(id, -32601, fmt.Sprintf("Method not found: %s", method))
}
