// Package mcptools exposes group ordering as Model Context Protocol tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/groupcart/pkg/auth"
	"github.com/txn2/groupcart/pkg/group"
	"github.com/txn2/groupcart/pkg/throttle"
)

// Tool names.
const (
	ToolCreate    = "group_create"
	ToolJoin      = "group_join"
	ToolSetItem   = "group_set_item"
	ToolSummary   = "group_summary"
	ToolTerminate = "group_terminate"
)

// GroupService is the subset of the group service the tools call.
type GroupService interface {
	CreateSession(ctx context.Context, in group.CreateSessionInput, leader group.UserID) (*group.Session, error)
	Join(ctx context.Context, token string, user group.UserID) (group.SessionID, error)
	UpsertItem(ctx context.Context, in group.UpsertItemInput) (*group.LineItem, error)
	Summarize(ctx context.Context, sessionID group.SessionID, requester group.UserID) (*group.Summary, error)
	Terminate(ctx context.Context, sessionID group.SessionID, requester group.UserID) error
}

var _ GroupService = (*group.Service)(nil)

// IdentifyFunc resolves the calling user of a tool request.
type IdentifyFunc func(ctx context.Context, req *mcp.CallToolRequest) (group.UserID, error)

// HeaderIdentity authenticates the bearer token or API key sent with the
// HTTP request that carried the tool call.
func HeaderIdentity(authenticator auth.Authenticator) IdentifyFunc {
	return func(ctx context.Context, req *mcp.CallToolRequest) (group.UserID, error) {
		if req == nil || req.Extra == nil || req.Extra.Header == nil {
			return "", auth.ErrNoToken
		}
		h := req.Extra.Header
		token := ""
		if after, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(after)
		}
		if token == "" {
			token = strings.TrimSpace(h.Get("X-API-Key"))
		}
		if token == "" {
			return "", auth.ErrNoToken
		}
		id, err := authenticator.Authenticate(auth.WithToken(ctx, token))
		if err != nil {
			return "", err
		}
		return group.UserID(id.UserID), nil
	}
}

// Options configures the tool set.
type Options struct {
	Name        string
	Version     string
	JoinLimiter throttle.Limiter
	Logger      *slog.Logger
}

// Toolkit holds the dependencies of the group tools.
type Toolkit struct {
	svc      GroupService
	identify IdentifyFunc
	limiter  throttle.Limiter
	logger   *slog.Logger
}

// NewToolkit creates a Toolkit. identify must not be nil.
func NewToolkit(svc GroupService, identify IdentifyFunc, opts Options) *Toolkit {
	if opts.JoinLimiter == nil {
		opts.JoinLimiter = throttle.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Toolkit{svc: svc, identify: identify, limiter: opts.JoinLimiter, logger: opts.Logger}
}

// NewServer builds an MCP server with the group tools registered and call
// logging installed.
func NewServer(tk *Toolkit, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "groupcart"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	tk.RegisterTools(s)
	s.AddReceivingMiddleware(LoggingMiddleware(tk.logger))
	return s
}

// Handler serves s over streamable HTTP.
func Handler(s *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

// LoggingMiddleware logs every tools/call with its outcome.
func LoggingMiddleware(logger *slog.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}
			result, err := next(ctx, method, req)

			attrs := []any{"tool", toolName(req)}
			if res, ok := result.(*mcp.CallToolResult); ok && res != nil && res.IsError {
				attrs = append(attrs, "tool_error", true)
			}
			if err != nil {
				logger.WarnContext(ctx, "mcp tool call failed", append(attrs, "error", err)...)
				return result, err
			}
			logger.InfoContext(ctx, "mcp tool call", attrs...)
			return result, nil
		}
	}
}

func toolName(req mcp.Request) string {
	if req == nil {
		return ""
	}
	if p, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok && p != nil {
		return p.Name
	}
	return ""
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encoding result: %v", err)), nil, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// failure converts err into a tool error result. Unclassified errors are
// logged and masked.
func (tk *Toolkit) failure(ctx context.Context, tool string, err error) (*mcp.CallToolResult, any, error) {
	var e *group.Error
	if errors.As(err, &e) && e.Kind != group.KindInternal {
		return errorResult(fmt.Sprintf("%s: %s", e.Code, e.Message)), nil, nil
	}
	tk.logger.ErrorContext(ctx, "mcp tool failed", "tool", tool, "error", err)
	return errorResult(fmt.Sprintf("%s: internal error", group.CodeInternal)), nil, nil
}
