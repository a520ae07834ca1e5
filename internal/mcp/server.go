package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(b Backend, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("liftlog", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("liftlog workout session engine. Start a session, log sets by passing what the lifter said to log_utterance, check sync health, and look up exercise history."),
	)

	h := &handlers{b: b, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetSession, Handler: h.getSession},
		server.ServerTool{Tool: toolStartSession, Handler: h.startSession},
		server.ServerTool{Tool: toolLogUtterance, Handler: h.logUtterance},
		server.ServerTool{Tool: toolQuickRepeat, Handler: h.quickRepeat},
		server.ServerTool{Tool: toolFinishSession, Handler: h.finishSession},
		server.ServerTool{Tool: toolDiscardSession, Handler: h.discardSession},
		server.ServerTool{Tool: toolSyncStatus, Handler: h.syncStatus},
		server.ServerTool{Tool: toolResolveExercise, Handler: h.resolveExercise},
		server.ServerTool{Tool: toolExerciseHistory, Handler: h.exerciseHistory},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resCurrentSession, Handler: h.currentSession},
		server.ServerResource{Resource: resSyncStatus, Handler: h.syncStatusResource},
	)

	return s
}

// NewHTTPHandler serves s over streamable HTTP for mounting in the API.
func NewHTTPHandler(s *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s)
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	b   Backend
	log *slog.Logger
}

// --- Resource definitions ---

var resCurrentSession = mcp.NewResource(
	"liftlog://session/current",
	"Current Session",
	mcp.WithResourceDescription("The active workout session document with every exercise and completed set"),
	mcp.WithMIMEType("application/json"),
)

var resSyncStatus = mcp.NewResource(
	"liftlog://sync/status",
	"Sync Status",
	mcp.WithResourceDescription("Connectivity, retry queue depth and the last sync error"),
	mcp.WithMIMEType("application/json"),
)
