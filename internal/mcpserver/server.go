// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tagdex tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tagdex/internal/service"
)

// OffsetFormatURI is the resource carrying OffsetFormatContract.
const OffsetFormatURI = "tagdex://offset-format"

// Server wraps the MCP server with tagdex tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all tagdex tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"tagdex",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag in the dictionary with its serial, identifier, offsets and unit count."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("resolve_tag",
		mcp.WithDescription("Resolve a tag by identifier (e.g. geo:city) or serial token (e.g. @7)."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Identifier or @serial")),
	), s.resolveTag)

	s.mcp.AddTool(mcp.NewTool("tag_usage",
		mcp.WithDescription("Show where a tag is stored and how often each offset was populated in the last scan."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Identifier or @serial")),
	), s.tagUsage)

	s.mcp.AddTool(mcp.NewTool("describe_offset",
		mcp.WithDescription("Translate an offset path such as 3.7 into tag identifiers. "+
			"Read the tagdex://offset-format resource for the path format."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Dot-separated serials, e.g. 3.7")),
	), s.describeOffset)

	s.mcp.AddTool(mcp.NewTool("plan_indexes",
		mcp.WithDescription("Compute which offsets of a tag deserve a sparse index. Read-only."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Identifier or @serial")),
		mcp.WithNumber("minimum_count", mcp.Description("Usage threshold; omit for the configured default")),
	), s.planIndexes)

	s.mcp.AddResource(
		mcp.NewResource(OffsetFormatURI, "Offset Path Format",
			mcp.WithResourceDescription("How tag values are addressed inside documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOffsetFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.TrimSuffix(buf.String(), "\n")), nil
}

func (s *Server) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Tags(ctx))
}

func (s *Server) resolveTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, err := s.svc.Resolve(ctx, token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tag)
}

func (s *Server) tagUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Tag(ctx, token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(detail)
}

func (s *Server) describeOffset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	desc, err := s.svc.Describe(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", path, desc)), nil
}

func (s *Server) planIndexes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	minimum := -1
	if v, fErr := req.RequireFloat("minimum_count"); fErr == nil {
		minimum = int(v)
	}
	plan, err := s.svc.Plan(ctx, token, minimum)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(plan) == 0 {
		return mcp.NewToolResultText("no indexes planned"), nil
	}
	return jsonResult(plan)
}

func (s *Server) readOffsetFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      OffsetFormatURI,
			MIMEType: "text/markdown",
			Text:     OffsetFormatContract,
		},
	}, nil
}
