// Package output renders user-facing progress for alorg commands.
//
// [Printer] writes step banners such as "[3/7] Building production app",
// warnings, failure reports and the final summary. Styling uses lipgloss
// with a renderer bound to the destination writer, so output sent to a
// buffer or pipe is plain text.
//
// Diagnostics go through log/slog instead; a Printer only carries what a
// user watching a deploy needs to see.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"alorg/internal/descriptor"
	"alorg/internal/pipeline"
	"alorg/internal/runner"
)

// errorPrefix starts every line of a failure report.
const errorPrefix = "deploy-error"

// Printer writes styled progress to a writer. It implements
// [pipeline.Reporter] and is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	s  styles
}

// NewPrinter creates a Printer writing to stdout.
func NewPrinter() *Printer {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a Printer writing to w.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{w: w, s: newStyles(lipgloss.NewRenderer(w))}
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// Blank writes an empty line.
func (p *Printer) Blank() {
	p.printf("\n")
}

// UsingConfig announces which descriptor drives the run.
func (p *Printer) UsingConfig(path string) {
	p.printf("Using config: %s\n\n", p.s.accent.Render(path))
}

// StepStarted prints a numbered banner, e.g. "[6/7] Deploying to root@h1".
func (p *Printer) StepStarted(step pipeline.PlannedStep, total int) {
	counter := p.s.step.Render(fmt.Sprintf("[%d/%d]", step.Number, total))
	p.printf("%s %s %s\n", counter, stageIcon(step.Stage), p.highlight(step))
}

// highlight renders the variable part of a label (image or server) in the
// accent color.
func (p *Printer) highlight(step pipeline.PlannedStep) string {
	var subject string
	switch step.Stage {
	case pipeline.StageRollingOut:
		subject = step.Server
	case pipeline.StageBuildingReleaseImage, pipeline.StagePublishing:
		if i := strings.LastIndex(step.Label, " "); i >= 0 {
			subject = step.Label[i+1:]
		}
	}
	if subject == "" || !strings.HasSuffix(step.Label, subject) {
		return step.Label
	}
	return strings.TrimSuffix(step.Label, subject) + p.s.accent.Render(subject)
}

func stageIcon(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageBuildingImage:
		return "🏗 "
	case pipeline.StageTesting:
		return "🛠 "
	case pipeline.StagePackaging, pipeline.StageBuildingReleaseImage:
		return "📦 "
	case pipeline.StagePublishing:
		return "☁️ "
	case pipeline.StageRollingOut:
		return "🚀 "
	default:
		return "• "
	}
}

// Warning prints a non-fatal notice.
func (p *Printer) Warning(msg string) {
	p.printf("%s %s\n\n", p.s.warning.Render("warning"), msg)
}

// Info prints a plain informational line.
func (p *Printer) Info(msg string) {
	p.printf("%s\n", msg)
}

// Plan lists the numbered steps without running them.
func (p *Printer) Plan(path string, plan pipeline.Plan) {
	p.UsingConfig(path)
	for _, step := range plan.Steps {
		p.StepStarted(step, plan.Total())
	}
	if !plan.Publishes() {
		p.Blank()
		p.Warning(pipeline.SkipDeployWarning)
	}
}

// Summary prints the outcome of a finished run.
func (p *Printer) Summary(res *pipeline.Result) {
	if res == nil {
		return
	}
	p.Blank()
	if res.Succeeded() {
		p.printf("🔥  %s %s\n\n", p.s.success.Render("Kick the tires and light the fires!"),
			p.s.dim.Render(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond))))
		return
	}

	if len(res.Rollouts) > 0 {
		for _, r := range res.Rollouts {
			if r.Succeeded() {
				p.printf("  %s %s\n", p.s.success.Render("✓"), r.Server)
				continue
			}
			p.printf("  %s %s %s\n", p.s.err.Render("✗"), r.Server, p.s.dim.Render(describe(r.Err)))
		}
		p.Blank()
	}
}

// DeployError prints a failure report. Descriptor problems get a pointer to
// the help text, as the fix is always in the file.
func (p *Printer) DeployError(err error) {
	prefix := p.s.err.Render(errorPrefix)

	var missing *descriptor.MissingFieldError
	var notFound *descriptor.NotFoundError
	switch {
	case errors.As(err, &missing):
		p.printf("%s Invalid config file missing property: %s\n", prefix, p.s.info.Render(missing.Field))
		p.helpHint(prefix)
	case errors.As(err, &notFound):
		p.printf("%s Cannot find or parse config file at path: %s\n", prefix, p.s.info.Render(notFound.Path))
		p.printf("%s %s\n", prefix, p.s.dim.Render(notFound.Err.Error()))
		p.helpHint(prefix)
	default:
		p.printf("%s %s\n", prefix, err.Error())
		p.stderrTail(prefix, err)
	}
	p.Blank()
}

// stderrTail echoes what a quiet step wrote to stderr before failing.
func (p *Printer) stderrTail(prefix string, err error) {
	var failed *runner.StepFailedError
	if !errors.As(err, &failed) || failed.Stderr == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(failed.Stderr, "\n"), "\n") {
		p.printf("%s   %s\n", prefix, p.s.dim.Render(line))
	}
}

func (p *Printer) helpHint(prefix string) {
	p.printf("%s Run the help for more info on config files:\n", prefix)
	p.printf("%s\n", prefix)
	p.printf("%s %s\n", prefix, p.s.info.Render("  alorg help deploy"))
	p.printf("%s\n", prefix)
}

// Check prints one doctor result line.
func (p *Printer) Check(name string, err error, detail string) {
	if err != nil {
		p.printf("%s %s %s\n", p.s.err.Render("✗"), name, p.s.dim.Render(err.Error()))
		return
	}
	if detail != "" {
		p.printf("%s %s %s\n", p.s.success.Render("✓"), name, p.s.dim.Render(detail))
		return
	}
	p.printf("%s %s\n", p.s.success.Render("✓"), name)
}

// Done prints the closing line of a successful command.
func (p *Printer) Done() {
	p.printf("🚀  done\n\n")
}

func describe(err error) string {
	if code, ok := runner.ExitCode(err); ok && code >= 0 {
		return fmt.Sprintf("exit code %d", code)
	}
	var spawn *runner.SpawnError
	if errors.As(err, &spawn) {
		return spawn.Err.Error()
	}
	return err.Error()
}
