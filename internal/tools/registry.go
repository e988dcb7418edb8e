package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/internal/priming"
)

// FolderSyncer refreshes the store's folder tree from the server
type FolderSyncer interface {
	SyncFolders(ctx context.Context, store *cache.Store) error
}

// Deps are the services tools operate on
type Deps struct {
	Config    *config.Config
	Store     *cache.Store
	Persister *cache.Persister
	Engine    *optimistic.Engine
	Pipeline  *priming.Pipeline
	Fetcher   priming.Fetcher
	Folders   FolderSyncer
	Logger    *logrus.Logger
}

// Registry manages MCP tools
type Registry struct {
	deps  *Deps
	tools map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(deps *Deps) *Registry {
	reg := &Registry{
		deps:  deps,
		tools: make(map[string]Tool),
	}

	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	toolList := []Tool{
		NewListFoldersTool(r.deps),
		NewSearchEmailsTool(r.deps),
		NewGetEmailTool(r.deps),
		NewSendEmailTool(r.deps),
		NewSaveDraftTool(r.deps),
		NewMailActionTool(r.deps),
		NewUndoActionTool(r.deps),
		NewPrimeCacheTool(r.deps),
		NewSyncStatusTool(r.deps),
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.deps.Logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.deps.Logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools, sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
