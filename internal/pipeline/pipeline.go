package pipeline

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"recordpatch/internal/clrmeta"
	"recordpatch/internal/il"
	"recordpatch/internal/patcherr"
	"recordpatch/internal/procexec"
)

const (
	DefaultDisassembler = "ildasm.exe"
	DefaultAssembler    = "ilasm.exe"
)

// Locator resolves an external tool below a search root.
type Locator interface {
	Find(root, fileName string) (string, error)
}

// Publisher receives the deliverables of a successful run.
type Publisher interface {
	PutFile(ctx context.Context, runID, localPath string) error
}

// Options describe one binary to transform.
type Options struct {
	// InputPath is the compiled library to patch.
	InputPath string
	// OutputDir receives a patched copy; empty patches InputPath in place.
	OutputDir string
	// ToolRoot is searched for the disassembler and assembler. Empty means
	// the directory of the running executable.
	ToolRoot     string
	Disassembler string
	Assembler    string
	Marker       il.Marker
}

func (o Options) withDefaults() Options {
	if o.Disassembler == "" {
		o.Disassembler = DefaultDisassembler
	}
	if o.Assembler == "" {
		o.Assembler = DefaultAssembler
	}
	if o.Marker.NamePrefix == "" && len(o.Marker.Capabilities) == 0 {
		o.Marker = il.DefaultMarker()
	}
	if o.ToolRoot == "" {
		o.ToolRoot = DefaultToolRoot()
	}
	return o
}

// DefaultToolRoot is the running program's directory, or the working
// directory when that cannot be determined.
func DefaultToolRoot() string {
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); dir != "" {
			return dir
		}
	}
	wd, _ := os.Getwd()
	return wd
}

// Report describes what a run did.
type Report struct {
	RunID      string
	State      State
	History    []State
	BinaryPath string
	ILPath     string
	DebugPath  string
	DocPath    string
	// Patched and Skipped hold full type names.
	Patched   []string
	Skipped   []string
	Published bool
}

func (r *Report) advance(s State) {
	r.State = s
	r.History = append(r.History, s)
}

// Pipeline disassembles a binary, adds the clone method to every candidate
// type that lacks it and reassembles the result.
type Pipeline struct {
	Locator   Locator
	Runner    procexec.Runner
	Publisher Publisher // optional
	Logger    *log.Logger
}

// New wires a pipeline. A nil logger uses log.Default().
func New(locator Locator, runner procexec.Runner, logger *log.Logger) *Pipeline {
	return &Pipeline{Locator: locator, Runner: runner, Logger: logger}
}

func (p *Pipeline) logf(format string, args ...any) {
	l := p.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

// Run executes one transformation. On failure the report ends in StateFailed
// and the error carries the category and, for tool failures, the tool output.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Report, error) {
	rep := Report{RunID: uuid.NewString()}
	rep.advance(StateNew)
	if err := p.run(ctx, opts, &rep); err != nil {
		rep.advance(StateFailed)
		return rep, err
	}
	// The local output is complete at this point; an upload failure is
	// reported without moving the run out of Done.
	if p.Publisher != nil {
		if err := p.publish(ctx, &rep); err != nil {
			return rep, err
		}
		rep.Published = true
	}
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options, rep *Report) error {
	if p == nil || p.Locator == nil || p.Runner == nil {
		return errors.New("pipeline: locator and runner are required")
	}
	input, err := validateInput(opts.InputPath)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	// Staged
	if opts.OutputDir != "" {
		p.logf("Preparing IL modification of %s to output directory %s", input, opts.OutputDir)
	} else {
		p.logf("Preparing IL modification of %s", input)
	}
	files, err := stage(input, opts.OutputDir)
	if err != nil {
		return err
	}
	rep.BinaryPath, rep.ILPath, rep.DebugPath, rep.DocPath = files.Binary, files.IL, files.Debug, files.Doc
	rep.advance(StateStaged)

	// The binary's own metadata is read before disassembly so that stale IL
	// text cannot hide an existing clone method.
	var members il.MemberIndex
	if asm, err := clrmeta.ReadFile(files.Binary); err != nil {
		p.logf("Metadata of %s unavailable, relying on IL text: %v", files.Binary, err)
	} else {
		members = asm
	}

	// Disassembled
	p.logf("Searching for %s in %s", opts.Disassembler, opts.ToolRoot)
	disasm, err := p.Locator.Find(opts.ToolRoot, opts.Disassembler)
	if err != nil {
		return err
	}
	p.logf("Disassembling %s", files.Binary)
	if err := p.invoke(ctx, "disassemble", disasm, disassembleArgs(files), opts.ToolRoot); err != nil {
		return err
	}
	rep.advance(StateDisassembled)

	// Patched
	p.logf("Modifying IL %s", files.IL)
	patched, skipped, err := p.patchFile(files.IL, opts.Marker, members)
	if err != nil {
		return err
	}
	rep.Patched, rep.Skipped = patched, skipped
	rep.advance(StatePatched)

	// Reassembled
	p.logf("Searching for %s in %s", opts.Assembler, opts.ToolRoot)
	asm, err := p.Locator.Find(opts.ToolRoot, opts.Assembler)
	if err != nil {
		return err
	}
	p.logf("Compiling IL into %s", files.Binary)
	if err := p.invoke(ctx, "reassemble", asm, assembleArgs(files), opts.ToolRoot); err != nil {
		return err
	}
	rep.advance(StateReassembled)
	rep.advance(StateDone)
	return nil
}

func disassembleArgs(files artifacts) []string {
	return []string{files.Binary, "/out:" + files.IL}
}

func assembleArgs(files artifacts) []string {
	args := []string{"/dll", files.IL, "/output:" + files.Binary}
	if files.Debug != "" {
		args = append(args, "/pdb:"+files.Debug)
	}
	return args
}

// invoke runs a tool and turns a non-zero exit into ExternalToolFailure.
func (p *Pipeline) invoke(ctx context.Context, op, tool string, args []string, dir string) error {
	p.logf("%s", procexec.CommandLine(tool, args))
	res, err := p.Runner.Run(ctx, tool, args, dir)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return patcherr.ToolFailure(op, res.ExitCode, res.Stdout, res.Stderr)
	}
	return nil
}

// patchFile rewrites the IL text in one pass: every candidate lacking the
// clone method gets one, and the file is written back once.
func (p *Pipeline) patchFile(path string, marker il.Marker, members il.MemberIndex) (patched, skipped []string, err error) {
	const op = "patch"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, patcherr.Wrap(patcherr.KindIO, op, err)
	}
	text := string(raw)

	for _, c := range il.Discover(text, marker) {
		if il.AlreadyPatched(text, c, members) {
			p.logf("%s already has %s", c.FullName, il.CloneMethodName)
			skipped = append(skipped, c.FullName)
			continue
		}
		body, err := il.Synthesize(c)
		if err != nil {
			return nil, nil, err
		}
		next, count, err := il.Patch(text, c, body)
		if err != nil {
			return nil, nil, err
		}
		p.logf("Added %s to %s (insertions: %d)", il.CloneMethodName, c.FullName, count)
		text = next
		patched = append(patched, c.FullName)
	}

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return nil, nil, patcherr.Wrap(patcherr.KindIO, op, err)
	}
	return patched, skipped, nil
}

func (p *Pipeline) publish(ctx context.Context, rep *Report) error {
	for _, f := range []string{rep.BinaryPath, rep.DebugPath, rep.DocPath, rep.ILPath} {
		if f == "" {
			continue
		}
		p.logf("Publishing %s (run %s)", filepath.Base(f), rep.RunID)
		if err := p.Publisher.PutFile(ctx, rep.RunID, f); err != nil {
			return patcherr.Wrap(patcherr.KindIO, "publish", err)
		}
	}
	return nil
}
