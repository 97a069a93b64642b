package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/group"
)

type createInput struct {
	Name        string `json:"name" jsonschema:"display name of the group order"`
	ScheduledAt string `json:"scheduledAt" jsonschema:"RFC 3339 time of the meal, must be in the future"`
	Mode        string `json:"mode" jsonschema:"DINE_IN or PARCEL"`
}

type joinInput struct {
	JoinToken string `json:"joinToken" jsonschema:"token shared by the group leader"`
}

type setItemInput struct {
	SessionID        string `json:"sessionId" jsonschema:"group session id"`
	ProductVariantID string `json:"productVariantId" jsonschema:"product variant to order"`
	Quantity         int    `json:"quantity" jsonschema:"desired quantity, at least 1"`
}

type sessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"group session id"`
}

// RegisterTools adds the group tools to s.
func (tk *Toolkit) RegisterTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolCreate,
		Description: "Create a group order led by the caller. Returns the session and its join token.",
	}, tk.handleCreate)

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolJoin,
		Description: "Join a group order with a join token.",
	}, tk.handleJoin)

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSetItem,
		Description: "Set the caller's quantity of a product variant in a group order. Stock is reserved immediately.",
	}, tk.handleSetItem)

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSummary,
		Description: "Summarize a group order: totals per member, current prices and unavailable items.",
	}, tk.handleSummary)

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolTerminate,
		Description: "Delete a group order and release its stock. Only the leader may do this.",
	}, tk.handleTerminate)
}

func (tk *Toolkit) caller(ctx context.Context, req *mcp.CallToolRequest) (group.UserID, *mcp.CallToolResult) {
	user, err := tk.identify(ctx, req)
	if err != nil || user == "" {
		return "", errorResult("UNAUTHENTICATED: authentication required")
	}
	return user, nil
}

func (tk *Toolkit) handleCreate(ctx context.Context, req *mcp.CallToolRequest, in createInput) (*mcp.CallToolResult, any, error) {
	user, denied := tk.caller(ctx, req)
	if denied != nil {
		return denied, nil, nil
	}
	sess, err := tk.svc.CreateSession(ctx, group.CreateSessionInput{
		Name: in.Name, ScheduledAt: in.ScheduledAt, Mode: in.Mode,
	}, user)
	if err != nil {
		return tk.failure(ctx, ToolCreate, err)
	}
	return jsonResult(map[string]any{"session": sess, "joinToken": sess.JoinToken})
}

func (tk *Toolkit) handleJoin(ctx context.Context, req *mcp.CallToolRequest, in joinInput) (*mcp.CallToolResult, any, error) {
	user, denied := tk.caller(ctx, req)
	if denied != nil {
		return denied, nil, nil
	}

	allowed, err := tk.limiter.Allow(ctx, "join:"+string(user))
	if err != nil {
		tk.logger.WarnContext(ctx, "join throttle unavailable", "user_id", user, "error", err)
		allowed = true
	}
	if !allowed {
		return errorResult("RATE_LIMITED: too many join attempts"), nil, nil
	}

	sid, err := tk.svc.Join(ctx, in.JoinToken, user)
	if err != nil {
		return tk.failure(ctx, ToolJoin, err)
	}
	return jsonResult(map[string]any{"sessionId": sid})
}

func (tk *Toolkit) handleSetItem(ctx context.Context, req *mcp.CallToolRequest, in setItemInput) (*mcp.CallToolResult, any, error) {
	user, denied := tk.caller(ctx, req)
	if denied != nil {
		return denied, nil, nil
	}
	item, err := tk.svc.UpsertItem(ctx, group.UpsertItemInput{
		SessionID: group.SessionID(in.SessionID),
		UserID:    user,
		VariantID: catalog.VariantID(in.ProductVariantID),
		Quantity:  in.Quantity,
	})
	if err != nil {
		return tk.failure(ctx, ToolSetItem, err)
	}
	return jsonResult(map[string]any{"lineItem": item})
}

func (tk *Toolkit) handleSummary(ctx context.Context, req *mcp.CallToolRequest, in sessionInput) (*mcp.CallToolResult, any, error) {
	user, denied := tk.caller(ctx, req)
	if denied != nil {
		return denied, nil, nil
	}
	s, err := tk.svc.Summarize(ctx, group.SessionID(in.SessionID), user)
	if err != nil {
		return tk.failure(ctx, ToolSummary, err)
	}
	return jsonResult(map[string]any{"summary": s})
}

func (tk *Toolkit) handleTerminate(ctx context.Context, req *mcp.CallToolRequest, in sessionInput) (*mcp.CallToolResult, any, error) {
	user, denied := tk.caller(ctx, req)
	if denied != nil {
		return denied, nil, nil
	}
	if err := tk.svc.Terminate(ctx, group.SessionID(in.SessionID), user); err != nil {
		return tk.failure(ctx, ToolTerminate, err)
	}
	return jsonResult(map[string]any{"sessionId": in.SessionID})
}
