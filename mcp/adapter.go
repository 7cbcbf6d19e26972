package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session adapts an official Go MCP SDK client session to ToolCaller.
//
//	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agent", Version: "1.0.0"}, nil)
//	sess, err := sdkClient.Connect(ctx, transport, nil)
//	caller := mcp.NewCaller(mcp.NewSession(sess), paymentClient)
type Session struct {
	session *mcpsdk.ClientSession
}

// NewSession wraps a connected SDK client session.
func NewSession(session *mcpsdk.ClientSession) *Session {
	return &Session{session: session}
}

// Close closes the underlying session.
func (s *Session) Close() error {
	return s.session.Close()
}

func (s *Session) CallTool(ctx context.Context, name string, args map[string]any, meta map[string]any) (ToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: name, Arguments: args}
	if meta != nil {
		params.Meta = mcpsdk.Meta(meta)
	}
	result, err := s.session.CallTool(ctx, params)
	if err != nil {
		return ToolResult{}, err
	}
	return fromSDKResult(result), nil
}

func fromSDKResult(result *mcpsdk.CallToolResult) ToolResult {
	out := ToolResult{IsError: result.IsError}
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			out.Content = append(out.Content, ContentItem{Type: "text", Text: text.Text})
		}
	}
	if structured, ok := result.StructuredContent.(map[string]any); ok {
		out.StructuredContent = structured
	}
	if result.Meta != nil {
		metaMap := result.Meta.GetMeta()
		if len(metaMap) > 0 {
			out.Meta = make(map[string]any, len(metaMap))
			for k, v := range metaMap {
				out.Meta[k] = v
			}
		}
	}
	return out
}

// SDKHandler bridges a ToolHandler to the SDK server callback shape,
// so a gated handler registers like any native tool:
//
//	server.AddTool(&mcpsdk.Tool{Name: "forecast", ...},
//	    mcp.SDKHandler("forecast", gate.Wrap(cfg, forecastHandler)))
func SDKHandler(name string, handler ToolHandler) func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		call := ToolContext{ToolName: name}
		if req.Params != nil {
			if req.Params.Name != "" {
				call.ToolName = req.Params.Name
			}
			if len(req.Params.Arguments) > 0 {
				args := make(map[string]any)
				if err := json.Unmarshal(req.Params.Arguments, &args); err == nil {
					call.Arguments = args
				}
			}
			if req.Params.Meta != nil {
				call.Meta = req.Params.Meta.GetMeta()
			}
		}

		result, err := handler(ctx, call)
		if err != nil {
			return nil, err
		}
		return toSDKResult(result), nil
	}
}

func toSDKResult(result ToolResult) *mcpsdk.CallToolResult {
	out := &mcpsdk.CallToolResult{IsError: result.IsError}
	for _, item := range result.Content {
		out.Content = append(out.Content, &mcpsdk.TextContent{Text: item.Text})
	}
	if result.StructuredContent != nil {
		out.StructuredContent = result.StructuredContent
	}
	if result.Meta != nil {
		out.Meta = mcpsdk.Meta(result.Meta)
	}
	return out
}
