package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/batch"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/preview"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/models"
)

const usage = `usage: cellforge <command> [flags]

commands:
  transform        transform a range of cells and save the workbook
  preview          transform the first few cells without saving
  models           list the models of a backend
  test-connection  check that a backend answers
  prompts          list the predefined prompts
  info             describe a workbook
`

type cli struct {
	backends *llm.Client
	defaults config.ProcessingConfig
	pacing   *batch.Pacing // nil uses the configured delays
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "transform":
		return c.transform(ctx, rest)
	case "preview":
		return c.preview(ctx, rest)
	case "models":
		return c.models(ctx, rest)
	case "test-connection":
		return c.testConnection(ctx, rest)
	case "prompts":
		return c.prompts()
	case "info":
		return c.info(rest)
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	default:
		fmt.Fprint(c.stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// rangeFlags are shared by transform and preview.
type rangeFlags struct {
	file         string
	columns      string
	contextCols  string
	start, end   int
	filter       string
	instruction  string
	prompt       string
	systemPrompt string
	backend      string
	model        string
	temperature  float64
	maxTokens    int
}

func (c *cli) rangeFlagSet(name string, rf *rangeFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&rf.file, "file", "", "workbook path (.xlsx, .xlsm or .csv)")
	fs.StringVar(&rf.columns, "columns", "", "comma-separated columns to transform")
	fs.StringVar(&rf.contextCols, "context", "", "comma-separated columns passed as context")
	fs.IntVar(&rf.start, "start", 0, "first row (0-based, inclusive)")
	fs.IntVar(&rf.end, "end", 0, "last row (exclusive); 0 means the end of the sheet")
	fs.StringVar(&rf.filter, "filter", "", `only rows matching this expression, e.g. "Age > 30"`)
	fs.StringVar(&rf.instruction, "instruction", "", "what to do with each cell")
	fs.StringVar(&rf.prompt, "prompt", "", "name of a predefined prompt (see `cellforge prompts`)")
	fs.StringVar(&rf.systemPrompt, "system", c.defaults.SystemPrompt, "system prompt")
	fs.StringVar(&rf.backend, "backend", "", "openai, ollama or bedrock (default from CELLFORGE_BACKEND)")
	fs.StringVar(&rf.model, "model", "", "model override")
	fs.Float64Var(&rf.temperature, "temperature", c.defaults.Temperature, "sampling temperature in [0,1]")
	fs.IntVar(&rf.maxTokens, "max-tokens", c.defaults.MaxTokens, "response token ceiling per cell")
	return fs
}

// load opens the workbook and reads the selected cells.
func (c *cli) load(rf rangeFlags) (*table.Store, []models.CellTask, error) {
	if rf.file == "" {
		return nil, nil, errors.New("-file is required")
	}
	columns := splitList(rf.columns)
	if len(columns) == 0 {
		return nil, nil, errors.New("-columns is required")
	}
	sheet := table.NewStore(c.logger)
	if err := sheet.OpenFile(rf.file); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", rf.file, err)
	}
	meta := sheet.Meta()
	for _, col := range append(append([]string{}, columns...), splitList(rf.contextCols)...) {
		if !slices.Contains(meta.ColumnNames, col) {
			return nil, nil, fmt.Errorf("column %q not in %s (have %s)", col, rf.file, strings.Join(meta.ColumnNames, ", "))
		}
	}
	end := rf.end
	if end <= 0 {
		end = meta.Rows
	}
	tasks, err := sheet.ReadRangeWhere(rf.start, end, columns, splitList(rf.contextCols), rf.filter)
	if err != nil {
		return nil, nil, fmt.Errorf("filter: %w", err)
	}
	return sheet, tasks, nil
}

func (c *cli) userPrompt(rf rangeFlags) (string, error) {
	if s := strings.TrimSpace(rf.instruction); s != "" {
		return s, nil
	}
	if rf.prompt != "" {
		p, ok := config.LookupPrompt(rf.prompt)
		if !ok {
			return "", fmt.Errorf("unknown prompt %q", rf.prompt)
		}
		return p, nil
	}
	return "", errors.New("-instruction or -prompt is required")
}

func (c *cli) target(backend, model string) (*llm.Target, error) {
	kind := c.backends.Backend()
	if backend != "" {
		k, err := llm.ParseKind(backend)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	return c.backends.Target(kind, model)
}

func (c *cli) transform(ctx context.Context, args []string) error {
	var rf rangeFlags
	fs := c.rangeFlagSet("transform", &rf)
	batchSize := fs.Int("batch", c.defaults.BatchSize, "cells per batch")
	out := fs.String("out", "", "save to this path instead of overwriting -file")
	dryRun := fs.Bool("no-save", false, "print results without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := c.userPrompt(rf)
	if err != nil {
		return err
	}
	target, err := c.target(rf.backend, rf.model)
	if err != nil {
		return err
	}
	sheet, tasks, err := c.load(rf)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(c.stdout, "no cells selected")
		return nil
	}

	pacing := batch.Pacing{CellDelay: c.defaults.CellDelay, BatchDelay: c.defaults.BatchDelay}
	if c.pacing != nil {
		pacing = *c.pacing
	}
	engine := batch.NewEngine(target, batch.WithPacing(pacing), batch.WithLogger(c.logger))
	sink := batch.NewChannelSink(16)
	run, err := engine.Submit(ctx, batch.Request{
		RunID:        uuid.New(),
		Tasks:        tasks,
		SystemPrompt: rf.systemPrompt,
		UserPrompt:   user,
		BatchSize:    *batchSize,
		Temperature:  rf.temperature,
		MaxTokens:    rf.maxTokens,
	}, sink)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "run %s: %d cells with %s %s\n", run.ID(), len(tasks), target.Backend(), target.Model())

	started := time.Now()
	for p := range sink.Updates() {
		fmt.Fprintf(c.stderr, "  [%d/%d] %s\n", p.Processed, p.Total, p.Status)
	}
	completion := <-sink.Done()

	if *dryRun {
		for _, r := range completion.Results {
			if r.Success {
				fmt.Fprintf(c.stdout, "row %d %s: %s\n", r.Row, r.Column, r.Value)
			} else {
				fmt.Fprintf(c.stdout, "row %d %s: FAILED %s\n", r.Row, r.Column, r.Error)
			}
		}
	} else {
		applied, _ := sheet.WriteRange(context.WithoutCancel(ctx), completion.Results, *out == "")
		if *out != "" && applied > 0 {
			written, err := sheet.SaveAs(*out)
			if err != nil {
				return fmt.Errorf("save %s: %w", *out, err)
			}
			fmt.Fprintf(c.stderr, "saved %s\n", written)
		}
	}

	fmt.Fprintf(c.stdout, "%s: %d succeeded, %d failed in %s\n",
		completion.State, completion.Succeeded, completion.Failed, time.Since(started).Round(time.Millisecond))
	if completion.Err != "" {
		return errors.New(completion.Err)
	}
	return nil
}

func (c *cli) preview(ctx context.Context, args []string) error {
	var rf rangeFlags
	fs := c.rangeFlagSet("preview", &rf)
	limit := fs.Int("limit", c.defaults.PreviewCells, "cells to preview")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := c.userPrompt(rf)
	if err != nil {
		return err
	}
	target, err := c.target(rf.backend, rf.model)
	if err != nil {
		return err
	}
	_, tasks, err := c.load(rf)
	if err != nil {
		return err
	}

	cells := preview.Run(ctx, target, tasks, preview.Params{
		SystemPrompt: rf.systemPrompt,
		UserPrompt:   user,
		Temperature:  rf.temperature,
		MaxTokens:    rf.maxTokens,
		Limit:        *limit,
	})
	for _, cell := range cells {
		fmt.Fprintf(c.stdout, "row %d %s\n", cell.Row, cell.Column)
		if !cell.Success {
			fmt.Fprintf(c.stdout, "  FAILED %s\n", cell.Error)
			continue
		}
		if !cell.Changed {
			fmt.Fprintf(c.stdout, "  (unchanged) %s\n", cell.Before)
			continue
		}
		for _, l := range cell.Diff {
			switch l.Type {
			case preview.LineAdded:
				fmt.Fprintf(c.stdout, "  + %s\n", l.Text)
			case preview.LineRemoved:
				fmt.Fprintf(c.stdout, "  - %s\n", l.Text)
			default:
				fmt.Fprintf(c.stdout, "    %s\n", l.Text)
			}
		}
	}
	fmt.Fprintf(c.stdout, "%d of %d selected cells previewed\n", len(cells), len(tasks))
	return nil
}

func (c *cli) models(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	backend := fs.String("backend", "", "backend to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := c.target(*backend, "")
	if err != nil {
		return err
	}
	list, err := target.ListModels(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAPI")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Name, m.API)
	}
	return tw.Flush()
}

func (c *cli) testConnection(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("test-connection", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	backend := fs.String("backend", "", "backend to test")
	model := fs.String("model", "", "model to test")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := c.target(*backend, *model)
	if err != nil {
		return err
	}
	ok, msg := target.TestConnection(ctx)
	fmt.Fprintf(c.stdout, "%s %s: %s\n", target.Backend(), target.Model(), msg)
	if !ok {
		return errors.New("connection test failed")
	}
	return nil
}

func (c *cli) prompts() error {
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	for _, p := range config.Prompts() {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Instruction)
	}
	return tw.Flush()
}

func (c *cli) info(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	file := fs.String("file", "", "workbook path")
	column := fs.String("column", "", "profile one column in depth")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	sheet := table.NewStore(c.logger)
	if err := sheet.OpenFile(*file); err != nil {
		return fmt.Errorf("open %s: %w", *file, err)
	}
	t := sheet.Snapshot()

	if *column != "" {
		a, err := t.AnalyzeColumn(*column)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%s: %s, %d values, %d missing, %d unique\n", a.Name, a.Type, a.Count, a.Missing, a.Unique)
		if a.Min != nil && a.Max != nil && a.Mean != nil {
			fmt.Fprintf(c.stdout, "range %g to %g, mean %.3g\n", *a.Min, *a.Max, *a.Mean)
		}
		for _, v := range a.TopValues {
			fmt.Fprintf(c.stdout, "  %q x %d\n", v.Value, v.Count)
		}
		return nil
	}

	meta := sheet.Meta()
	s := t.Summary()
	fmt.Fprintf(c.stdout, "%s (%s): %d rows, %d columns\n", meta.Name, meta.Format, s.Rows, s.Columns)
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tMISSING")
	for _, col := range meta.ColumnNames {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", col, s.ColumnTypes[col], s.Missing[col])
	}
	return tw.Flush()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
