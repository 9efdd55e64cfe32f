package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lspbase/internal/engine"
	"lspbase/internal/observ"
	"lspbase/internal/record"
	"lspbase/internal/trace"
	"lspbase/internal/ui"
)

var (
	checkWorkspace string
	checkUI        string
	checkTimings   bool
)

func init() {
	checkCmd.Flags().StringVar(&checkWorkspace, "workspace", ".", "workspace root to discover records under")
	checkCmd.Flags().StringVar(&checkUI, "ui", "auto", "progress view (auto|on|off)")
	checkCmd.Flags().BoolVar(&checkTimings, "timings", false, "print phase timings to stderr")
}

var checkCmd = &cobra.Command{
	Use:   "check [flags] FILE...",
	Short: "Print the recorded diagnostics of source files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

type checkResult struct {
	path  string
	diags []record.Diagnostic
	ok    bool
	err   error
}

func runCheck(cmd *cobra.Command, args []string) error {
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ws, err := filepath.Abs(checkWorkspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	settings, err := resolveSettings(cmd, ws)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	timer := observ.NewTimer()
	eng := engine.New(engine.Options{
		Settings: settings,
		Tracer:   trace.FromContext(ctx),
		Context:  ctx,
	})
	phase := timer.Begin("discover")
	eng.SetWorkspaces([]string{ws})
	timer.End(phase, discoverNote(eng))

	limit := settings.MaxConcurrentLoads
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	mode, err := readUIMode(checkUI)
	if err != nil {
		return err
	}
	var results []checkResult
	phase = timer.Begin("resolve")
	if shouldUseTUI(mode, len(args)) {
		results, err = resolveWithUI(ctx, eng, args, limit)
		if err != nil {
			return err
		}
	} else {
		results = resolveFiles(ctx, eng, args, limit, nil)
	}
	timer.End(phase, fmt.Sprintf("%d file(s)", len(args)))

	colorMode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	useColor, err := resolveColor(colorMode, os.Stdout)
	if err != nil {
		return err
	}
	phase = timer.Begin("print")
	p := newPrinter(cmd.OutOrStdout(), useColor)
	failed := false
	for _, res := range results {
		if res.err != nil {
			failed = true
			p.failure(cmd.ErrOrStderr(), res.path, res.err)
		}
		if !res.ok {
			continue
		}
		var lines []string
		if data, err := os.ReadFile(res.path); err == nil {
			lines = strings.Split(string(data), "\n")
		}
		for _, d := range res.diags {
			p.diagnostic(res.path, d, lines)
		}
	}
	timer.End(phase, "")
	if checkTimings {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}
	if failed {
		return errLoadFailed
	}
	return nil
}

func discoverNote(eng *engine.Engine) string {
	keys, inputs := 0, 0
	for _, st := range eng.Workspaces() {
		keys += st.Keys
		inputs += len(st.InputDirs)
	}
	return fmt.Sprintf("%d input dir(s), %d key(s)", inputs, keys)
}

// resolveFiles validates every file concurrently, at most limit at a time.
// Results keep the order of files. sink, when set, observes progress.
func resolveFiles(ctx context.Context, eng *engine.Engine, files []string, limit int, sink func(ui.Event)) []checkResult {
	emit := func(ev ui.Event) {
		if sink != nil {
			sink(ev)
		}
	}
	results := make([]checkResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, file := range files {
		g.Go(func() error {
			emit(ui.Event{File: file, Status: ui.StatusLoading})
			res := checkResult{path: file}
			path, err := filepath.Abs(file)
			if err == nil {
				res.diags, res.ok, err = eng.Validate(gctx, path)
			}
			res.err = err
			results[i] = res

			status := ui.StatusDone
			switch {
			case res.err != nil:
				status = ui.StatusError
			case !res.ok:
				status = ui.StatusAbsent
			}
			emit(ui.Event{File: file, Status: status, Count: len(res.diags)})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func resolveColor(mode string, f *os.File) (bool, error) {
	switch strings.ToLower(mode) {
	case "on", "always":
		return true, nil
	case "off", "never":
		return false, nil
	case "auto", "":
		return isTerminal(f) && os.Getenv("NO_COLOR") == "", nil
	default:
		return false, fmt.Errorf("unsupported color mode %q (must be auto, on or off)", mode)
	}
}

type printer struct {
	out      io.Writer
	location *color.Color
	warning  *color.Color
	errLabel *color.Color
	caret    *color.Color
}

func newPrinter(out io.Writer, useColor bool) *printer {
	p := &printer{
		out:      out,
		location: color.New(color.Bold),
		warning:  color.New(color.FgYellow, color.Bold),
		errLabel: color.New(color.FgRed, color.Bold),
		caret:    color.New(color.FgGreen, color.Bold),
	}
	for _, c := range []*color.Color{p.location, p.warning, p.errLabel, p.caret} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// diagnostic prints d with one-based positions, followed by the source line
// and a caret under the column when the line exists.
func (p *printer) diagnostic(path string, d record.Diagnostic, lines []string) {
	start := d.Range.Start
	loc := fmt.Sprintf("%s:%d:%d:", path, start.Line+1, start.Column+1)
	fmt.Fprintf(p.out, "%s %s %s\n", p.location.Sprint(loc), p.warning.Sprint(d.Severity.String()+":"), d.Message)
	if int64(start.Line) >= int64(len(lines)) {
		return
	}
	src := strings.TrimRight(lines[start.Line], "\r")
	fmt.Fprintf(p.out, "  %s\n", src)
	fmt.Fprintf(p.out, "  %s%s\n", caretPadding(src, int(start.Column)), p.caret.Sprint("^"))
}

func (p *printer) failure(w io.Writer, path string, err error) {
	fmt.Fprintf(w, "%s %s %v\n", p.location.Sprint(path+":"), p.errLabel.Sprint("error:"), err)
}

// caretPadding returns the whitespace that puts a caret under the column-th
// character of src. Tabs are kept so the terminal expands them the same way.
func caretPadding(src string, column int) string {
	var b strings.Builder
	i := 0
	for _, r := range src {
		if i >= column {
			break
		}
		if r == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
		}
		i++
	}
	if i < column {
		b.WriteString(strings.Repeat(" ", column-i))
	}
	return b.String()
}
