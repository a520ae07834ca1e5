package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// splitNames splits a comma-separated exercise list, dropping blanks.
func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed")
	}
	return result
}

// --- Tool definitions ---

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Return the active workout session: exercises in order, planned and completed sets, and which exercise is current."),
)

var toolStartSession = mcp.NewTool("start_session",
	mcp.WithDescription("Start a workout session. Fails if one is already active."),
	mcp.WithString("title", mcp.Description("Workout title. Defaults to Morning/Afternoon/Evening Workout.")),
	mcp.WithString("exercises", mcp.Description("Comma-separated routine exercise names in order (e.g. 'bench press, incline dumbbell press'). Each is resolved against the catalog.")),
)

var toolLogUtterance = mcp.NewTool("log_utterance",
	mcp.WithDescription("Apply what the lifter said to the active session, e.g. '100 kilos for 8', 'same again', 'switch to squats', 'undo that'. Returns the classified command and the updated session."),
	mcp.WithString("text", mcp.Required(), mcp.Description("The utterance, verbatim")),
)

var toolQuickRepeat = mcp.NewTool("quick_repeat",
	mcp.WithDescription("Log the next set of an exercise exactly as it was performed last workout, without classification."),
	mcp.WithString("exercise_id", mcp.Description("Catalog exercise id. Defaults to the current exercise.")),
)

var toolFinishSession = mcp.NewTool("finish_session",
	mcp.WithDescription("End the active session after pending utterances are applied and push the final state."),
)

var toolDiscardSession = mcp.NewTool("discard_session",
	mcp.WithDescription("Throw away the active session without finishing it."),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
)

var toolSyncStatus = mcp.NewTool("sync_status",
	mcp.WithDescription("Connectivity, retry queue depth, stalled flag and the last sync error."),
)

var toolResolveExercise = mcp.NewTool("resolve_exercise",
	mcp.WithDescription("Match a spoken or typed exercise name to the catalog. Returns the id, title, edit distance and whether the match was exact."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Exercise name")),
)

var toolExerciseHistory = mcp.NewTool("exercise_history",
	mcp.WithDescription("Recent sessions and trend for an exercise from the local history cache."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise name or catalog id")),
)

// --- Tool handlers ---

func (h *handlers) getSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, ok, err := h.b.Session(ctx)
	if err != nil {
		h.log.Error("mcp get_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultText("no active session"), nil
	}
	return jsonResult(doc), nil
}

func (h *handlers) startSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := h.b.StartSession(ctx, req.GetString("title", ""), splitNames(req.GetString("exercises", "")))
	if err != nil {
		return mcp.NewToolResultError("start failed: " + err.Error()), nil
	}
	return jsonResult(doc), nil
}

func (h *handlers) logUtterance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil || strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}
	res, err := h.b.Utterance(ctx, text)
	if err != nil {
		return mcp.NewToolResultError("utterance not applied: " + err.Error()), nil
	}
	return jsonResult(res), nil
}

func (h *handlers) quickRepeat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.b.QuickRepeat(ctx, req.GetString("exercise_id", ""))
	if err != nil {
		return mcp.NewToolResultError("quick repeat failed: " + err.Error()), nil
	}
	return jsonResult(res), nil
}

func (h *handlers) finishSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := h.b.FinishSession(ctx)
	if err != nil {
		return mcp.NewToolResultError("finish failed: " + err.Error()), nil
	}
	return jsonResult(doc), nil
}

func (h *handlers) discardSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !req.GetBool("confirm", false) {
		return mcp.NewToolResultError("confirm must be true"), nil
	}
	if err := h.b.DiscardSession(ctx); err != nil {
		return mcp.NewToolResultError("discard failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText("session discarded"), nil
}

func (h *handlers) syncStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.b.SyncStatus(ctx)
	if err != nil {
		h.log.Error("mcp sync_status", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(st), nil
}

func (h *handlers) resolveExercise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	m, err := h.b.ResolveExercise(ctx, name)
	if err != nil {
		return mcp.NewToolResultError("no match: " + err.Error()), nil
	}
	return jsonResult(m), nil
}

// exerciseHistory accepts a name or an id. Names are resolved first; an
// input that resolves to nothing is tried as an id.
func (h *handlers) exerciseHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exercise, err := req.RequireString("exercise")
	if err != nil {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}
	id := exercise
	if m, err := h.b.ResolveExercise(ctx, exercise); err == nil {
		id = m.ID
	}

	hist, err := h.b.ExerciseHistory(ctx, id)
	if err != nil {
		h.log.Error("mcp exercise_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(hist), nil
}
