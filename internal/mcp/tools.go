package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codeindex/core/internal/apperr"
	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/query"
	"github.com/codeindex/core/internal/service"
	"github.com/codeindex/core/internal/storage"
)

// Tool registrations are composable functions, one per Service operation,
// matching the teacher's AddCortexSearchTool pattern. Handlers parse the
// raw argument map, call the service, and return the result as JSON text;
// typed service errors serialize as {code, message, context}.

// AddInitProjectTool registers codeindex_init.
func AddInitProjectTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_init",
		mcp.WithDescription("Initialize and index a project directory. Idempotent per path; re-running on an initialized project is an error unless new_config is set."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the project root")),
		mcp.WithBoolean("new_config", mcp.Description("Reissue the in-repo marker for an inconsistent project")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		path, _ := args["path"].(string)
		if path == "" {
			return mcp.NewToolResultError("path parameter is required"), nil
		}
		newConfig, _ := args["new_config"].(bool)

		p, err := svc.InitProject(ctx, path, service.InitOptions{NewConfig: newConfig})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(p)
	})
}

// AddListProjectsTool registers codeindex_projects.
func AddListProjectsTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_projects",
		mcp.WithDescription("List every indexed project with its id, path, and languages."),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := svc.ListProjects(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(projects)
	})
}

// AddSearchTool registers codeindex_search.
func AddSearchTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_search",
		mcp.WithDescription("Search a project's code with hybrid (lexical + semantic + graph) retrieval. Returns ranked chunks with file metadata."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, name, or path")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("kind", mcp.Description("hybrid (default), fts, vector, or graph")),
		mcp.WithNumber("k", mcp.Description("Result count (1-100, default 10)")),
		mcp.WithString("path_glob", mcp.Description("Only return chunks whose path matches this glob")),
		mcp.WithString("language", mcp.Description("Only return chunks from files of this language")),
		mcp.WithString("graph_seed", mcp.Description("Node id or relPath seeding the graph branch")),
		mcp.WithNumber("graph_depth", mcp.Description("Graph traversal depth (1-5, default 2)")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		projectRef, _ := args["project"].(string)
		text, _ := args["query"].(string)
		if projectRef == "" || text == "" {
			return mcp.NewToolResultError("project and query parameters are required"), nil
		}

		q := query.Query{Text: text, Kind: query.KindHybrid}
		if kind, ok := args["kind"].(string); ok && kind != "" {
			q.Kind = query.Kind(kind)
		}
		if k, ok := args["k"].(float64); ok {
			q.K = int(k)
		}
		if g, ok := args["path_glob"].(string); ok {
			q.Filters.RelPathGlob = g
		}
		if lang, ok := args["language"].(string); ok {
			q.Filters.Language = lang
		}
		if seed, ok := args["graph_seed"].(string); ok {
			q.GraphSeed = seed
		}
		if d, ok := args["graph_depth"].(float64); ok {
			q.GraphDepth = int(d)
		}

		results, err := svc.Search(ctx, projectRef, q)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]interface{}{"results": results, "total": len(results)})
	})
}

// AddFileContextTool registers codeindex_file.
func AddFileContextTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_file",
		mcp.WithDescription("Fetch one indexed file's chunks, optionally with related chunks from directly-connected files."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, name, or path")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the project root")),
		mcp.WithBoolean("include_related", mcp.Description("Also return chunks of graph-adjacent files")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		projectRef, _ := args["project"].(string)
		relPath, _ := args["path"].(string)
		if projectRef == "" || relPath == "" {
			return mcp.NewToolResultError("project and path parameters are required"), nil
		}
		includeRelated, _ := args["include_related"].(bool)

		fc, err := svc.GetFileContext(ctx, projectRef, relPath, includeRelated)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(fc)
	})
}

// AddRelationshipsTool registers codeindex_graph.
func AddRelationshipsTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_graph",
		mcp.WithDescription("Traverse the code graph from a file or symbol: imports, calls, containment, inheritance."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, name, or path")),
		mcp.WithString("seed", mcp.Required(), mcp.Description("Node id or relPath to start from")),
		mcp.WithArray("edge_kinds", mcp.Description("Restrict to these edge kinds (imports, calls, contains, extends, implements, ...)")),
		mcp.WithString("direction", mcp.Description("in, out, or both (default both)")),
		mcp.WithNumber("depth", mcp.Description("Traversal depth (1-5, default 2)")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		projectRef, _ := args["project"].(string)
		seed, _ := args["seed"].(string)
		if projectRef == "" || seed == "" {
			return mcp.NewToolResultError("project and seed parameters are required"), nil
		}

		var kinds []model.EdgeKind
		if raw, ok := args["edge_kinds"].([]interface{}); ok {
			for _, k := range raw {
				if ks, ok := k.(string); ok {
					kinds = append(kinds, model.EdgeKind(ks))
				}
			}
		}
		dir := storage.DirBoth
		if d, ok := args["direction"].(string); ok && d != "" {
			dir = storage.Direction(d)
		}
		depth := 0
		if d, ok := args["depth"].(float64); ok {
			depth = int(d)
		}

		sub, err := svc.GetRelationships(ctx, projectRef, seed, kinds, dir, depth)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(sub)
	})
}

// AddNotifyTool registers codeindex_notify.
func AddNotifyTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_notify",
		mcp.WithDescription("Notify the index of file changes (created/modified/deleted), or request a full reindex. The only way to trigger re-ingestion."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, name, or path")),
		mcp.WithArray("changes", mcp.Description("List of {kind, path} objects; kind is created, modified, or deleted")),
		mcp.WithBoolean("full_reindex", mcp.Description("Drop all indexed data for the project and rebuild")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		projectRef, _ := args["project"].(string)
		if projectRef == "" {
			return mcp.NewToolResultError("project parameter is required"), nil
		}
		fullReindex, _ := args["full_reindex"].(bool)

		var changes []indexer.Change
		if raw, ok := args["changes"].([]interface{}); ok {
			for _, c := range raw {
				m, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				kind, _ := m["kind"].(string)
				path, _ := m["path"].(string)
				if kind == "" || path == "" {
					continue
				}
				changes = append(changes, indexer.Change{Kind: indexer.ChangeKind(kind), RelPath: path})
			}
		}
		if len(changes) == 0 && !fullReindex {
			return mcp.NewToolResultError("either changes or full_reindex is required"), nil
		}

		result, err := svc.NotifyFileChanges(ctx, projectRef, changes, fullReindex)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(result)
	})
}

// AddStandardsTool registers codeindex_standards.
func AddStandardsTool(s *server.MCPServer, svc *service.Service) {
	tool := mcp.NewTool(
		"codeindex_standards",
		mcp.WithDescription("Return the project's mined coding standards: recurring validation, error-handling, logging, and testing patterns with confidence scores and canonical examples."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, name, or path")),
		mcp.WithString("category", mcp.Description("validation, error_handling, logging, or testing; omit for all")),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		projectRef, _ := args["project"].(string)
		if projectRef == "" {
			return mcp.NewToolResultError("project parameter is required"), nil
		}
		category, _ := args["category"].(string)

		patterns, err := svc.GetCodingStandards(ctx, projectRef, model.StandardCategory(category))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(patterns)
	})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult serializes a service error with its stable code; anything
// else degrades to an INTERNAL code with the message only.
func errorResult(err error) *mcp.CallToolResult {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Context string `json:"context,omitempty"`
	}
	if ae, ok := err.(*apperr.Error); ok {
		payload.Code = string(ae.Code)
		payload.Message = ae.Message
		payload.Context = ae.Context
	} else {
		payload.Code = string(apperr.Internal)
		payload.Message = err.Error()
	}
	data, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(data))
}
