package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/actionc/internal/compiler"
	"github.com/roach88/actionc/internal/config"
	"github.com/roach88/actionc/internal/generate"
	"github.com/roach88/actionc/internal/loader"
	"github.com/roach88/actionc/internal/logging"
	"github.com/roach88/actionc/internal/pgexec"
	"github.com/roach88/actionc/internal/placement"
)

// session carries what one command invocation shares: configuration,
// logger and output.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	out    *OutputFormatter
}

// newSession loads configuration and builds the logger. --verbose lowers
// the log level to debug.
func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fail(out, ExitCommandError, ErrCodeConfig, err)
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return nil, fail(out, ExitCommandError, ErrCodeConfig, err)
	}
	return &session{cfg: cfg, logger: logger, out: out}, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// declarations returns the declarations path from args or config.
func (s *session) declarations(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return s.cfg.Declarations
}

// build loads declarations and prepares a compiler. Problems are reported
// through the formatter and returned as an ExitError: unreadable input is
// a command error, invalid declarations a validation failure.
func (s *session) build(path string) (*compiler.Compiler, *loader.Result, error) {
	s.out.VerboseLog("Loading declarations from %s", path)
	res, errs := loader.Load(path, loader.ModeCollectAll)
	if res == nil {
		return nil, nil, s.report("Loading declarations failed", ExitCommandError, problemsOf(errs))
	}
	if len(errs) > 0 {
		return nil, res, s.report("Validation failed", ExitFailure, problemsOf(errs))
	}
	s.out.VerboseLog("Loaded %d entities from %d file(s)", len(res.Model.Entities), len(res.Files))

	c, err := compiler.New(res.Model, compiler.Options{CyclePolicy: compiler.CyclePolicy(s.cfg.CyclePolicy)})
	if err != nil {
		return nil, res, s.report("Validation failed", ExitFailure, problemsOf([]error{err}))
	}
	for _, w := range c.CycleWarnings() {
		s.out.VerboseLog("warning: %s", w.Message)
	}
	return c, res, nil
}

// generate compiles every action of c with the configured placement.
func (s *session) generate(ctx context.Context, c *compiler.Compiler, scaffold bool) (*generate.Result, error) {
	alloc, err := placement.New(s.cfg.Placement, "")
	if err != nil {
		return nil, fail(s.out, ExitCommandError, ErrCodeConfig, err)
	}
	res, err := generate.Generate(ctx, c, generate.Options{
		Allocator:   alloc,
		Scaffold:    scaffold || s.cfg.Scaffold,
		Parallelism: s.cfg.Parallelism,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, s.report("Compilation failed", ExitFailure, problemsOf([]error{err}))
	}
	return res, nil
}

// executor connects to DATABASE_URL.
func (s *session) executor(ctx context.Context) (*pgexec.Executor, error) {
	x, err := pgexec.Open(ctx, pgexec.Config{
		URL:            s.cfg.Database.URL,
		MaxConnections: s.cfg.Database.MaxConns,
	}, s.logger)
	if err != nil {
		return nil, fail(s.out, ExitCommandError, ErrCodeDatabase, err)
	}
	return x, nil
}

// report prints problems under heading and returns the ExitError to
// hand back to cobra.
func (s *session) report(heading string, exitCode int, problems []CLIError) error {
	_ = s.out.Problems(heading, problems)
	return NewExitError(exitCode, fmt.Sprintf("%s with %d error(s)", heading, len(problems)))
}

// problemsOf flattens loader, model and compile errors into CLI errors.
func problemsOf(errs []error) []CLIError {
	var out []CLIError
	for _, err := range errs {
		var (
			loadErr    *loader.LoadError
			modelErr   *compiler.ModelError
			compileErr *compiler.CompileError
		)
		switch {
		case errors.As(err, &loadErr):
			out = append(out, CLIError{Code: loadErr.Code, Field: loadLocation(loadErr), Message: loadErr.Message})
		case errors.As(err, &modelErr):
			for _, ve := range modelErr.Errors {
				out = append(out, CLIError{Code: ve.Code, Field: ve.Field, Message: ve.Message})
			}
		case errors.As(err, &compileErr):
			out = append(out, CLIError{Code: ErrCodeCompile, Field: compilePath(compileErr), Message: compileErr.Message})
		default:
			out = append(out, CLIError{Code: loader.ErrCodeGeneric, Message: err.Error()})
		}
	}
	return out
}

func loadLocation(e *loader.LoadError) string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d", e.File, e.Line)
	default:
		return e.File
	}
}

func compilePath(e *compiler.CompileError) string {
	p := e.Entity
	if e.Action != "" {
		p += "." + e.Action
	}
	if e.Field != "" {
		p += "." + e.Field
	}
	return p
}
