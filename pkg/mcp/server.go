package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/histree-io/histree/pkg/client"
	"github.com/histree-io/histree/pkg/render"
)

// Server adapts histree-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"histree",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// histree://files
	s.mcpServer.AddResource(mcp.NewResource(
		"histree://files",
		"Tracked Files",
		mcp.WithResourceDescription("Every tracked file with its node count, pending change depth, and current node"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadFiles)

	// histree://graph/{file_id}
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(
		"histree://graph/{file_id}",
		"File Version Graph",
		mcp.WithTemplateDescription("Full version graph of one file: nodes, deltas, parent/child edges, current pointer"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleReadGraph)

	// histree://events
	s.mcpServer.AddResource(mcp.NewResource(
		"histree://events",
		"Histree Event Log",
		mcp.WithResourceDescription("Recent journal events: node creations, navigations, acknowledgments"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"create_node",
		mcp.WithDescription("Record a new edit as a node under a parent. The file's current pointer moves to the new node."),
		mcp.WithString("file_id", mcp.Description("Target file (default 'default')")),
		mcp.WithString("parent_node_id", mcp.Required(), mcp.Description("Node the edit branches from ('root' for the first edit)")),
		mcp.WithString("delta", mcp.Required(), mcp.Description("The edit payload as a JSON value")),
	), s.handleCreateNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"navigate",
		mcp.WithDescription("Move the file's current pointer and queue the apply/revert change for editors. Returns the mode."),
		mcp.WithString("file_id", mcp.Description("Target file (default 'default')")),
		mcp.WithString("current_node_id", mcp.Required(), mcp.Description("Node the pointer should come to rest on")),
		mcp.WithString("target_node_id", mcp.Required(), mcp.Description("Node whose delta the queued change carries")),
	), s.handleNavigate)

	s.mcpServer.AddTool(mcp.NewTool(
		"poll_changes",
		mcp.WithDescription("Read the pending change queue, oldest first, without consuming it."),
		mcp.WithString("file_id", mcp.Description("Target file (default 'default')")),
	), s.handlePollChanges)

	s.mcpServer.AddTool(mcp.NewTool(
		"acknowledge",
		mcp.WithDescription("Acknowledge applied changes. Ids must be the exact oldest-first prefix of the pending queue."),
		mcp.WithString("file_id", mcp.Description("Target file (default 'default')")),
		mcp.WithString("node_ids", mcp.Required(), mcp.Description("Comma-separated node ids, oldest first")),
	), s.handleAcknowledge)

	s.mcpServer.AddTool(mcp.NewTool(
		"read_graph",
		mcp.WithDescription("Render a file's version tree as ASCII art with the current node marked 'x'."),
		mcp.WithString("file_id", mcp.Description("Target file (default 'default')")),
	), s.handleRenderGraph)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"histree-aware",
		mcp.WithPromptDescription("Provides context about Histree concepts (files, nodes, deltas, the pending queue)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadFiles(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	files, err := s.apiClient.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch files: %w", err)
	}

	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal files: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	fileID := strings.TrimPrefix(request.Params.URI, "histree://graph/")
	if fileID == "" || strings.Contains(fileID, "/") {
		return nil, fmt.Errorf("bad graph URI: %s", request.Params.URI)
	}

	graph, err := s.apiClient.Graph(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}

	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.GetEvents(ctx, "", 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCreateNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID := mcp.ParseString(request, "file_id", "default")
	parentID := mcp.ParseString(request, "parent_node_id", "")
	delta := mcp.ParseString(request, "delta", "")

	if !json.Valid([]byte(delta)) {
		return mcp.NewToolResultError(fmt.Sprintf("delta is not valid JSON: %q", delta)), nil
	}

	nodeID, err := s.apiClient.CreateNode(ctx, fileID, parentID, json.RawMessage(delta))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Created node %s under %s (file %s). The current pointer now sits on it.", nodeID, parentID, fileID)), nil
}

func (s *Server) handleNavigate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID := mcp.ParseString(request, "file_id", "default")
	currentID := mcp.ParseString(request, "current_node_id", "")
	targetID := mcp.ParseString(request, "target_node_id", "")

	mode, err := s.apiClient.Navigate(ctx, fileID, currentID, targetID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Mode: %s\nPointer: %s", mode, currentID)), nil
}

func (s *Server) handlePollChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID := mcp.ParseString(request, "file_id", "default")

	changes, err := s.apiClient.Changes(ctx, fileID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultText("No pending changes."), nil
	}

	data, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal changes: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleAcknowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID := mcp.ParseString(request, "file_id", "default")
	raw := mcp.ParseString(request, "node_ids", "")

	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return mcp.NewToolResultError("node_ids is empty"), nil
	}

	remaining, err := s.apiClient.Ack(ctx, fileID, ids)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Acknowledged %d change(s); %d still pending.", len(ids), remaining)), nil
}

func (s *Server) handleRenderGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID := mcp.ParseString(request, "file_id", "default")

	graph, err := s.apiClient.Graph(ctx, fileID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	tree := render.Tree{Children: make(map[string][]string, len(graph.Nodes))}
	for id, n := range graph.Nodes {
		if len(n.Parents) == 0 {
			tree.Root = id
		}
		tree.Children[id] = n.Children
	}

	art := render.Draw(tree, render.Options{CurrentID: graph.CurrentNodeID})
	return mcp.NewToolResultText(fmt.Sprintf("current: %s\n\n%s", graph.CurrentNodeID, art)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "histree-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Histree, a branchable edit-history server.

Concepts:
- File: An independent edit history, addressed by file_id.
- Node: One recorded edit. It carries an opaque JSON delta and hangs under a parent node. The synthetic 'root' node is always present.
- Current pointer: The node the file currently sits on. Creating a node moves the pointer to it.
- Navigate: Moving the pointer queues a change for editors. current == target means apply (redo the delta); otherwise revert (undo it).
- Pending queue: Oldest-first changes awaiting an editor. Polling never consumes; acknowledging an exact oldest-first prefix does.

To record an edit, use 'create_node'. To move through history, use 'navigate'.
To act as an editor, 'poll_changes', apply what you read, then 'acknowledge'
exactly the ids you applied, oldest first. Never acknowledge out of order.
`

	return mcp.NewGetPromptResult(
		"histree-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
