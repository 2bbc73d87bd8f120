package encoder

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/command"
	"av1-worker/internal/media"
	"av1-worker/internal/transcoder"
)

// Config carries every orchestrator default in one place.
type Config struct {
	DefaultOutputName   string
	DefaultQualityLevel int
	DefaultPreset       string
	DefaultMinVMAF      float64
	MinCRF              int
	MaxCRF              int
	// AutoCRF searches for a CRF whenever none is set, even without min-vmaf.
	AutoCRF bool
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.DefaultOutputName == "" {
		c.DefaultOutputName = "output.mp4"
	}
	if c.DefaultQualityLevel <= 0 {
		c.DefaultQualityLevel = transcoder.DefaultCRF
	}
	if c.DefaultPreset == "" {
		c.DefaultPreset = transcoder.DefaultPreset
	}
	if c.DefaultMinVMAF <= 0 {
		c.DefaultMinVMAF = 95
	}
	if c.MinCRF <= 0 {
		c.MinCRF = transcoder.DefaultMinCRF
	}
	if c.MaxCRF <= 0 {
		c.MaxCRF = transcoder.DefaultMaxCRF
	}
	return c
}

// State tracks a session through its life.
type State int

const (
	StateConfiguring State = iota
	StateReady
	StateExecuting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session drives one encoding job: it owns the builder, resolves media to
// local paths, optionally searches for a CRF, executes through a backend and
// keeps the artifact in a private temp directory until it is exported.
// A session is not safe for concurrent use.
type Session struct {
	cfg      Config
	backend  transcoder.Backend
	searcher Searcher
	temps    *media.TempDirs
	logger   hclog.Logger

	builder *command.Builder
	media   *media.Collection
	state   State
	tempDir string
	result  *Result
}

// New returns a session executing through backend. searcher may be nil, in
// which case automatic CRF selection uses cfg.DefaultQualityLevel.
func New(cfg Config, backend transcoder.Backend, searcher Searcher, temps *media.TempDirs, logger hclog.Logger) *Session {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if temps == nil {
		temps = media.NewTempDirs("", logger)
	}
	return &Session{
		cfg:      cfg.withDefaults(),
		backend:  backend,
		searcher: searcher,
		temps:    temps,
		logger:   logger.Named("session"),
	}
}

// Open binds the source media and starts a fresh builder.
func (s *Session) Open(c *media.Collection) error {
	if c.Len() == 0 {
		return ErrEmptyCollection
	}
	s.media = c
	s.Builder().Reset()
	s.state = StateReady
	s.logger.Debug("opened media", "count", c.Len())
	return nil
}

// Builder returns the session builder, creating it on first use. The same
// instance is returned for the life of the session.
func (s *Session) Builder() *command.Builder {
	if s.builder == nil {
		s.builder = command.New()
	}
	return s.builder
}

// SetOperation selects the operation on the builder.
func (s *Session) SetOperation(op command.Operation) error {
	return s.Builder().SetOperation(op)
}

func (s *Session) Backend() transcoder.Backend { return s.backend }

// UseBackend swaps the execution backend.
func (s *Session) UseBackend(b transcoder.Backend) *Session {
	s.backend = b
	return s
}

func (s *Session) Media() *media.Collection { return s.media }
func (s *Session) State() State             { return s.state }
func (s *Session) Config() Config           { return s.cfg }

// Executed reports whether Run has produced a result.
func (s *Session) Executed() bool { return s.result != nil }

// Result returns the last run result, or nil.
func (s *Session) Result() *Result { return s.result }

// Command renders the builder for display. It never executes anything.
func (s *Session) Command() (string, error) {
	args, err := s.Builder().Render()
	if err != nil {
		return "", err
	}
	return command.Quote(append([]string{command.Binary}, args...)), nil
}

// Run executes the built command. The returned error covers configuration
// problems only; a process that fails is reported through Result.
//
// The session builder is left exactly as the caller configured it: media
// resolution, temp output paths and the automatic CRF are applied to a copy.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	b := s.Builder()
	if err := s.check(b); err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.state = StateExecuting

	res, err := s.run(ctx, b.Clone())
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.result = res
	if res.Successful() {
		s.state = StateSucceeded
	} else {
		s.state = StateFailed
	}
	return res, nil
}

// check validates what run would execute without touching the disk. It fills
// in the same defaults run does, with placeholders for values only known
// after media is fetched or a CRF search finishes.
func (s *Session) check(b *command.Builder) error {
	if b.Operation() == "" {
		return b.Validate()
	}
	// A backend that relies on the session for CRF selection cannot run a
	// standalone search; that has to go through ab-av1.
	if b.Operation() == command.CRFSearch && s.backend.SupportsQualitySearch() {
		return &transcoder.UnsupportedOperationError{Backend: s.backend.Name(), Operation: command.CRFSearch}
	}

	plan := b.Clone()
	if !plan.Operation().IsQuality() {
		if plan.Input() == "" && s.media != nil {
			plan.SetInput(s.media.First().Path())
		}
		if plan.Output() == "" {
			plan.SetOutput(s.cfg.DefaultOutputName)
		}
	}
	if s.needsCRFSearch(plan) {
		if err := s.applyCRF(plan, s.cfg.DefaultQualityLevel); err != nil {
			return err
		}
	}
	return plan.Validate()
}

func (s *Session) run(ctx context.Context, b *command.Builder) (res *Result, err error) {
	// Any temp dir created by this run is dropped again if the run never gets
	// as far as producing a result, so a failed call leaves nothing behind.
	createdDir := s.tempDir == ""
	defer func() {
		if err != nil && createdDir {
			if rErr := s.Release(); rErr != nil {
				s.logger.Warn("failed to remove temp dir", "error", rErr)
			}
		}
	}()

	// 1. Point media references at local files. Remote media is downloaded
	//    here, once, and shared by every later run of the session.
	if err := s.resolveMedia(ctx, b); err != nil {
		return nil, err
	}

	// 2. Artifacts go to the session temp dir under the desired name. The
	//    exporter moves them to their real destination afterwards. crf-search
	//    writes nothing, so it only needs a name to satisfy validation.
	var tempOutput string
	if !b.Operation().IsQuality() {
		desired := b.Output()
		if desired == "" {
			desired = s.cfg.DefaultOutputName
		}
		if b.Operation().ProducesArtifact() {
			dir, err := s.workDir()
			if err != nil {
				return nil, err
			}
			tempOutput = filepath.Join(dir, filepath.Base(desired))
			desired = tempOutput
		}
		b.SetOutput(desired)
	}

	// 3. Pick a CRF first when the backend cannot search on its own. This is
	//    a full ab-av1 search and usually takes longer than the encode.
	crf, searched := 0, false
	if s.needsCRFSearch(b) {
		crf = s.searchCRF(ctx, b, tempOutput)
		searched = true
		if err := s.applyCRF(b, crf); err != nil {
			return nil, err
		}
	}

	// 4. Execute. A non-zero exit is not an error here; it ends up in the
	//    result so the caller can show the tool's own output.
	op := b.Operation()
	s.logger.Info("running", "operation", op, "backend", s.backend.Name())
	start := time.Now()
	out, err := s.backend.Execute(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// 5. Wrap.
	res = newResult(op, s.backend.Name(), out, tempOutput, time.Since(start))
	res.crf, res.autoCRF = crf, searched
	if res.Successful() {
		s.logger.Info("finished", "operation", op, "elapsed", res.duration.Round(time.Millisecond))
	} else {
		s.logger.Error("failed", "operation", op, "exit_code", res.exitCode)
	}
	return res, nil
}

// applyCRF turns b into a plain encode at crf. auto-encode becomes encode
// since the quality target has already been met by the search.
func (s *Session) applyCRF(b *command.Builder, crf int) error {
	b.CRF(crf)
	if !b.Has(command.KeyPreset) {
		b.Preset(s.cfg.DefaultPreset)
	}
	if b.Operation() == command.AutoEncode {
		return b.SetOperation(command.Encode)
	}
	return nil
}

func (s *Session) needsCRFSearch(b *command.Builder) bool {
	if !s.backend.SupportsQualitySearch() || b.Has(command.KeyCRF) {
		return false
	}
	switch b.Operation() {
	case command.AutoEncode, command.Encode, command.SampleEncode:
	default:
		return false
	}
	return b.Has(command.KeyMinVMAF) || s.cfg.AutoCRF
}

func (s *Session) searchCRF(ctx context.Context, b *command.Builder, output string) int {
	req := transcoder.CRFSearch{
		Input:   b.Input(),
		Output:  output,
		Preset:  s.cfg.DefaultPreset,
		MinVMAF: s.cfg.DefaultMinVMAF,
		MinCRF:  s.cfg.MinCRF,
		MaxCRF:  s.cfg.MaxCRF,
	}
	if v, ok := b.Option(command.KeyPreset); ok {
		req.Preset = v.String()
	}
	if v, ok := b.Option(command.KeyMinVMAF); ok {
		req.MinVMAF = floatOption(v.String(), req.MinVMAF)
	}
	if v, ok := b.Option(command.KeyMinCRF); ok {
		req.MinCRF = intOption(v.String(), req.MinCRF)
	}
	if v, ok := b.Option(command.KeyMaxCRF); ok {
		req.MaxCRF = intOption(v.String(), req.MaxCRF)
	}
	crf := FindCRF(ctx, s.searcher, s.cfg, req, s.logger)
	s.logger.Info("using crf", "crf", crf, "min_vmaf", req.MinVMAF)
	return crf
}

// resolveMedia swaps paths naming a collection member for its local copy and
// defaults the input to the first member.
func (s *Session) resolveMedia(ctx context.Context, b *command.Builder) error {
	if s.media == nil {
		return nil
	}
	resolve := func(p string) (string, error) {
		m := s.media.FindByPath(p)
		if m == nil {
			return p, nil
		}
		return m.MaterializeLocal(ctx)
	}

	if b.Operation().IsQuality() {
		ref, err := resolve(b.Reference())
		if err != nil {
			return err
		}
		dist, err := resolve(b.Distorted())
		if err != nil {
			return err
		}
		b.SetReference(ref).SetDistorted(dist)
		return nil
	}

	if b.Input() == "" {
		local, err := s.media.First().MaterializeLocal(ctx)
		if err != nil {
			return err
		}
		b.SetInput(local)
		return nil
	}
	in, err := resolve(b.Input())
	if err != nil {
		return err
	}
	b.SetInput(in)
	return nil
}

func (s *Session) workDir() (string, error) {
	if s.tempDir != "" {
		return s.tempDir, nil
	}
	dir, err := s.temps.Create()
	if err != nil {
		return "", err
	}
	s.tempDir = dir
	return dir, nil
}

// Release drops the artifact temp dir. Call it once the output is exported.
func (s *Session) Release() error {
	if s.tempDir == "" {
		return nil
	}
	err := s.temps.Remove(s.tempDir)
	s.tempDir = ""
	return err
}

// Cleanup releases the temp dir and every downloaded media copy.
func (s *Session) Cleanup() error {
	err := s.Release()
	if s.media != nil {
		if mErr := s.media.Release(); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}
