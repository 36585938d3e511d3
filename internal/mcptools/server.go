// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptools exposes the pipeline as Model Context Protocol
// tools over stdio, so an agent can drive workflows without the HTTP
// API. Every tool calls the same pipeline service the HTTP layer
// uses; job-submitting tools return immediately and the agent polls
// with get_job.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voxflow/voxflow/internal/jq"
	vflog "github.com/voxflow/voxflow/internal/log"
	"github.com/voxflow/voxflow/internal/pipeline"
)

// Server wraps the MCP server with the voxflow tool set.
type Server struct {
	mcp      *server.MCPServer
	pipeline *pipeline.Service
	selector *jq.Selector
	logger   *slog.Logger
}

// New builds the tool server. Logging must go to stderr so it cannot
// corrupt the stdio protocol stream; the caller provides a logger
// configured that way.
func New(svc *pipeline.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:      server.NewMCPServer("voxflow", version),
		pipeline: svc,
		selector: jq.NewSelector(0, 0),
		logger:   vflog.WithComponent(logger, "mcp"),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the stdio transport until the stream
// closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp tool server starting")
	if err := server.ServeStdio(s.mcp); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// jsonResult encodes v as the tool's text content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}
}

// errResult reports a tool failure to the agent. Tool-level failures
// are results, not protocol errors.
func errResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// objectSchema builds the input schema for a tool from its property
// map and required list.
func objectSchema(props map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}
