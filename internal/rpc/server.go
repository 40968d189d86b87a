// Package rpc serves the tool surface over newline-delimited JSON frames.
// One connection is served sequentially so answers come back in request
// order; per-catalog write ordering is the store's write gate.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"omnicortex/internal/cortex"
	"omnicortex/internal/types"
)

// maxFrameBytes bounds a single request or response line.
const maxFrameBytes = 16 * 1024 * 1024

// ProtocolVersion identifies the frame layout.
const ProtocolVersion = 1

type request struct {
	ID         json.RawMessage `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	DeadlineMs int64           `json:"deadline_ms,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

// Server dispatches tool requests against a Core.
type Server struct {
	core   *cortex.Core
	logger *zap.Logger
}

// NewServer builds a dispatcher over the core.
func NewServer(core *cortex.Core, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{core: core, logger: logger}
}

// conn is the per-connection state machine: idle until initialize binds a
// project, ready afterwards.
type conn struct {
	server  *Server
	project *cortex.Project
}

// Serve runs one connection to EOF. A graceful EOF returns nil; a malformed
// frame is fatal for the connection and returns an error.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	c := &conn{server: s}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("malformed frame: %w", err)
		}

		resp := c.handle(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	return nil
}

// handle runs one request. Panics in a handler become ErrInternal; the
// connection stays up.
func (c *conn) handle(ctx context.Context, req *request) (resp response) {
	resp.ID = req.ID

	defer func() {
		if r := recover(); r != nil {
			c.server.logger.Error("tool handler panicked",
				zap.String("method", req.Method), zap.Any("panic", r))
			resp.Result = nil
			resp.Error = &errorBody{
				Code:    types.ErrorCode(types.ErrInternal),
				Message: "internal error",
			}
		}
	}()

	if req.DeadlineMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMs)*time.Millisecond)
		defer cancel()
	}

	result, err := c.route(ctx, req)
	if err != nil {
		resp.Error = &errorBody{
			Code:    types.ErrorCode(err),
			Message: err.Error(),
			Path:    types.ErrorPath(err),
		}
		return resp
	}
	resp.Result = result
	return resp
}

func (c *conn) route(ctx context.Context, req *request) (interface{}, error) {
	if req.Method == "initialize" {
		return c.initialize(ctx, req.Params)
	}
	if c.project == nil {
		return nil, fmt.Errorf("%w: initialize must be the first request", types.ErrConflict)
	}
	tool, ok := tools[req.Method]
	if !ok {
		return nil, types.Invalidf("method", "unknown method %q", req.Method)
	}
	return tool(ctx, c.project, req.Params)
}

type initializeInput struct {
	ProjectPath string `json:"project_path"`
	Global      bool   `json:"global"`
}

func (in *initializeInput) Validate() error {
	if !in.Global && in.ProjectPath == "" {
		return types.Invalidf("project_path", "required unless global is set")
	}
	return nil
}

func (c *conn) initialize(_ context.Context, params json.RawMessage) (interface{}, error) {
	var in initializeInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}

	var project *cortex.Project
	var err error
	if in.Global {
		project, err = c.server.core.Global()
	} else {
		project, err = c.server.core.Project(in.ProjectPath)
	}
	if err != nil {
		return nil, err
	}
	c.project = project

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]interface{}{
		"server":           "omni-cortex",
		"protocol_version": ProtocolVersion,
		"tools":            names,
	}, nil
}

// decode unmarshals params into a typed input and validates it. Unknown
// fields are ignored; a missing params object decodes the zero value.
func decode(params json.RawMessage, in interface{ Validate() error }) error {
	if len(params) > 0 {
		if err := json.Unmarshal(params, in); err != nil {
			return types.Invalidf("params", "malformed params: %v", err)
		}
	}
	return in.Validate()
}
