package tools

import (
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/table"
)

// Deps carries what the tools need. Runs, Queue, Signals and Sessions may be
// nil; the tools that depend on them then report that they are unavailable.
type Deps struct {
	Backends Backends
	Objects  table.Objects
	Runs     RunStore
	Queue    Enqueuer
	Signals  RunSignals
	Sessions Sessions
	Defaults config.ProcessingConfig
	Logger   *slog.Logger
}

// Register adds every cellforge tool to s.
func Register(s *sdkmcp.Server, d Deps) {
	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "use_workbook",
		Description: "Select the workbook (object key such as uploads/<id>/sheet.xlsx) that later calls in this session operate on when source is omitted.",
	}, WrapHandler[UseWorkbookParams](NewUseWorkbookHandler(d.Objects, d.Sessions, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "describe_workbook",
		Description: "Summarize a workbook: row and column counts with per-column fill rate and sample values. Pass column for a detailed profile of one column.",
	}, WrapHandler[DescribeWorkbookParams](NewDescribeWorkbookHandler(d.Objects, d.Sessions, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "read_range",
		Description: "Read the cells of the given columns between start_row (inclusive) and end_row (exclusive), optionally restricted by a filter expression such as `Age > 30`. Rows are zero-based and exclude the header.",
	}, WrapHandler[ReadRangeParams](NewReadRangeHandler(d.Objects, d.Sessions, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "list_prompts",
		Description: "List the predefined transformation prompts that can be passed by name as prompt.",
	}, WrapHandler[ListPromptsParams](ListPromptsHandler{}))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "list_models",
		Description: "List the models a configured LLM backend (openai, ollama, bedrock) offers.",
	}, WrapHandler[ListModelsParams](NewListModelsHandler(d.Backends, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "test_connection",
		Description: "Check that an LLM backend is reachable and the model answers.",
	}, WrapHandler[TestConnectionParams](NewTestConnectionHandler(d.Backends)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "transform_text",
		Description: "Apply an instruction or a named prompt to a single piece of text, with optional context fields. Nothing is stored.",
	}, WrapHandler[TransformTextParams](NewTransformTextHandler(d.Backends, d.Sessions, d.Defaults, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "preview_range",
		Description: "Transform the first few cells of a range and show before/after diffs without writing back. Use before start_run to check the instruction.",
	}, WrapHandler[PreviewRangeParams](NewPreviewRangeHandler(d.Backends, d.Objects, d.Sessions, d.Defaults, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "start_run",
		Description: "Queue a batch run that transforms every cell of the range and, with auto_save, writes the results back into the workbook. Returns the run ID.",
	}, WrapHandler[StartRunParams](NewStartRunHandler(d.Runs, d.Queue, d.Backends, d.Objects, d.Sessions, d.Defaults, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "get_run",
		Description: "Show a run's status and live progress. With include_results, list per-cell outcomes; failed_only narrows to failures.",
	}, WrapHandler[GetRunParams](NewGetRunHandler(d.Runs, d.Signals, d.Sessions, d.Logger)))

	sdkmcp.AddTool(s, &sdkmcp.Tool{
		Name:        "cancel_run",
		Description: "Cancel a queued or running run. A running run stops after the cell in progress and keeps the results gathered so far.",
	}, WrapHandler[CancelRunParams](NewCancelRunHandler(d.Runs, d.Signals, d.Sessions, d.Logger)))
}
