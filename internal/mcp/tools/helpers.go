package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maraichr/cellforge/internal/auth"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/mcp/session"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/store"
	"github.com/maraichr/cellforge/internal/table"
)

// ToolHandler is the interface that all tool handlers implement.
type ToolHandler[P any] interface {
	Handle(ctx context.Context, params P) (string, error)
}

// WrapHandler adapts a ToolHandler into the SDK's AddTool callback.
// It handles nil params by using a zero value and maps errors to CallToolResult.
func WrapHandler[P any](h ToolHandler[P]) func(context.Context, *sdkmcp.CallToolRequest, *P) (*sdkmcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, params *P) (*sdkmcp.CallToolResult, any, error) {
		if params == nil {
			params = new(P)
		}
		result, err := h.Handle(ctx, *params)
		if err != nil {
			return &sdkmcp.CallToolResult{
				IsError: true,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: result}},
		}, nil, nil
	}
}

// Backends is the view of the LLM client tools use. *llm.Client satisfies it.
type Backends interface {
	Target(kind llm.Kind, model string) (*llm.Target, error)
	Backend() llm.Kind
	Configured() []llm.Kind
}

// Sessions loads and saves agent sessions. *session.Manager satisfies it.
type Sessions interface {
	Load(ctx context.Context, sessionID string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
}

// WrapRunError translates store errors from GetRun into user-friendly messages.
func WrapRunError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run not found")
	}
	return fmt.Errorf("get run: %w", err)
}

// WrapWorkbookError translates workbook loading errors.
func WrapWorkbookError(source string, err error) error {
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		return fmt.Errorf("workbook %s not found", source)
	case errors.Is(err, table.ErrUnsupportedFormat):
		return fmt.Errorf("workbook %s: only .xlsx, .xlsm and .csv are supported", source)
	default:
		return fmt.Errorf("open workbook %s: %w", source, err)
	}
}

// requireWrite rejects callers without the write scope. Calls that carry no
// identity at all come from in-process use and are allowed.
func requireWrite(ctx context.Context) error {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		p, ok = auth.PrincipalFromTokenInfo(sdkauth.TokenInfoFromContext(ctx))
	}
	if !ok {
		return nil
	}
	if p.IsAdmin() || p.HasScope(auth.ScopeWrite) {
		return nil
	}
	return fmt.Errorf("this tool requires the %s scope", auth.ScopeWrite)
}

// loadSession returns nil when sessions are disabled or no ID was given.
func loadSession(ctx context.Context, sessions Sessions, id string, logger *slog.Logger) *session.Session {
	if sessions == nil || id == "" {
		return nil
	}
	sess, err := sessions.Load(ctx, id)
	if err != nil {
		logger.Warn("load mcp session", slog.String("session_id", id), slog.String("error", err.Error()))
		return nil
	}
	return sess
}

func saveSession(ctx context.Context, sessions Sessions, sess *session.Session, logger *slog.Logger) {
	if sessions == nil || sess == nil {
		return
	}
	if err := sessions.Save(ctx, sess); err != nil {
		logger.Warn("save mcp session", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
	}
}

// resolveTarget picks the backend from the call, then the session, then the
// client's active variant.
func resolveTarget(backends Backends, backend, model string, sess *session.Session) (*llm.Target, error) {
	if sess != nil {
		if backend == "" {
			backend = sess.Backend
			if model == "" {
				model = sess.Model
			}
		}
	}
	kind := backends.Backend()
	if backend != "" {
		k, err := llm.ParseKind(backend)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	return backends.Target(kind, model)
}

// instruction resolves the user prompt from free text or a catalog name.
func instruction(text, promptName string) (string, error) {
	if s := strings.TrimSpace(text); s != "" {
		return s, nil
	}
	if promptName != "" {
		if p, ok := config.LookupPrompt(promptName); ok {
			return p, nil
		}
		return "", fmt.Errorf("unknown prompt %q, see list_prompts", promptName)
	}
	return "", fmt.Errorf("instruction or prompt is required")
}
