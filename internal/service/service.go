// Package service wires the dictionary, planner, usage scan and recommit
// pipeline into the operations exposed by the CLI, the HTTP API and the MCP
// server.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/dictionary"
	"github.com/starford/tagdex/internal/docstore"
	"github.com/starford/tagdex/internal/metrics"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
	"github.com/starford/tagdex/internal/planner"
	"github.com/starford/tagdex/internal/recommit"
	"github.com/starford/tagdex/internal/sse"
	"github.com/starford/tagdex/internal/usage"
)

// Publisher receives progress events.
type Publisher interface {
	PublishProgress(eventType string, data any)
}

// Settings are the tunables the service applies when callers omit them.
type Settings struct {
	ScanWindow     int
	RecommitWindow int
	MinimumCount   int
	Background     bool
}

// Service coordinates the tag dictionary and the document store.
type Service struct {
	store    docstore.Collection
	dict     *dictionary.Dictionary
	resolver *offsetpath.Resolver
	planner  *planner.Planner
	logger   *slog.Logger
	settings Settings
	pub      Publisher
	metrics  *metrics.Set

	// scanMu serialises scans: the counters belong to the scan that last
	// recomputed them.
	scanMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithSettings overrides the defaults.
func WithSettings(st Settings) Option {
	return func(s *Service) { s.settings = st }
}

// WithPublisher forwards progress to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *metrics.Set) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a service. dict must already be loaded.
func New(store docstore.Collection, dict *dictionary.Dictionary, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		dict:     dict,
		resolver: offsetpath.NewResolver(dict),
		logger:   logger,
		settings: Settings{ScanWindow: 500, RecommitWindow: 100, MinimumCount: 100},
		metrics:  &metrics.Set{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.planner = planner.New(dict, store,
		planner.WithResolver(s.resolver),
		planner.WithBackground(s.settings.Background),
		planner.WithMetrics(s.metrics.Planner),
	)
	return s
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings { return s.settings }

// Resolve maps a token (identifier or @serial) to its tag.
func (s *Service) Resolve(_ context.Context, token string) (TagView, error) {
	def, err := s.dict.Resolve(token)
	if err != nil {
		return TagView{}, err
	}
	return newTagView(def), nil
}

// Tags lists every tag ordered by serial.
func (s *Service) Tags(_ context.Context) []TagView {
	defs := s.dict.Definitions()
	out := make([]TagView, len(defs))
	for i, def := range defs {
		out[i] = newTagView(def)
	}
	return out
}

// Tag returns one tag with per-offset usage from the last scan.
func (s *Service) Tag(_ context.Context, token string) (TagDetail, error) {
	def, err := s.dict.Resolve(token)
	if err != nil {
		return TagDetail{}, err
	}
	counts := s.dict.OffsetCounts()
	detail := TagDetail{TagView: newTagView(def), Offsets: []OffsetView{}}
	for _, path := range def.OffsetPaths.Sorted() {
		desc, err := s.resolver.Describe(path)
		if err != nil {
			s.logger.Warn("service: describe offset", slog.String("path", path), slog.String("error", err.Error()))
		}
		detail.Offsets = append(detail.Offsets, OffsetView{
			Path:        path,
			Description: desc,
			Count:       counts[path],
			IndexName:   planner.IndexName(path),
		})
	}
	return detail, nil
}

// Describe renders an offset path as the identifiers of its segments.
func (s *Service) Describe(_ context.Context, path string) (string, error) {
	return s.resolver.Describe(path)
}

// Plan computes the index plan for the tag named by token. A negative
// minimumCount uses the configured default.
func (s *Service) Plan(ctx context.Context, token string, minimumCount int) ([]models.IndexSpec, error) {
	def, err := s.dict.Resolve(token)
	if err != nil {
		return nil, err
	}
	return s.planner.Plan(ctx, def.Serial, s.threshold(minimumCount))
}

// Reconcile applies the plan of the tag named by token to the store.
func (s *Service) Reconcile(ctx context.Context, token string, minimumCount int) (planner.Result, error) {
	def, err := s.dict.Resolve(token)
	if err != nil {
		return planner.Result{}, err
	}
	res, err := s.planner.Reconcile(ctx, def.Serial, s.threshold(minimumCount), s.store)
	if err != nil {
		return res, err
	}
	s.logger.Info("planner: reconciled",
		slog.String("tag", def.Identifier.String()),
		slog.Int("created", len(res.Created)),
		slog.Int("dropped", len(res.Dropped)),
		slog.Int("kept", len(res.Kept)),
	)
	return res, nil
}

// Indexes lists the store's indexes, filling OffsetPath for planner-owned ones.
func (s *Service) Indexes(ctx context.Context) ([]models.IndexSpec, error) {
	specs, err := s.store.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range specs {
		if path, ok := planner.PathFromIndexName(specs[i].Name); ok {
			specs[i].OffsetPath = path
		}
	}
	return nonNilSlice(specs), nil
}

// Scan recomputes every usage counter. Only one scan runs at a time; a
// concurrent call fails with apperr.ErrConflict.
func (s *Service) Scan(ctx context.Context) (usage.Report, error) {
	if !s.scanMu.TryLock() {
		return usage.Report{}, fmt.Errorf("service: scan: %w: scan already running", apperr.ErrConflict)
	}
	defer s.scanMu.Unlock()

	scanner := usage.New(s.store, s.dict, s.logger,
		usage.WithWindowSize(s.settings.ScanWindow),
		usage.WithMetrics(s.metrics.Scan),
		usage.WithProgress(func(p usage.Progress) { s.publish(sse.TypeScanBatch, p) }),
	)
	rep, err := scanner.Scan(ctx)
	if err != nil {
		return rep, err
	}
	s.publish(sse.TypeScanDone, rep)
	return rep, nil
}

// RecommitRequest selects what a recommit run processes.
type RecommitRequest struct {
	RunID string       `json:"run_id,omitempty"`
	Query models.Query `json:"query"`
	// Partitions, when set, replaces Query with disjoint identity ranges run
	// in parallel.
	Partitions []models.Query `json:"partitions,omitempty"`
	Window     int            `json:"window,omitempty"`
	Keyset     bool           `json:"keyset,omitempty"`
}

// Recommit rebuilds the derived section of every matching document.
func (s *Service) Recommit(ctx context.Context, req RecommitRequest) ([]recommit.Stats, error) {
	window := req.Window
	if window <= 0 {
		window = s.settings.RecommitWindow
	}
	var opts []recommit.RunOption
	if req.RunID != "" {
		opts = append(opts, recommit.WithRunID(req.RunID))
	}
	if req.Keyset {
		opts = append(opts, recommit.WithKeyset(0))
	}

	p := s.pipeline()
	fn := recommit.DeriveTags(s.dict)
	if len(req.Partitions) > 0 {
		stats, err := p.RunPartitions(ctx, req.Partitions, window, fn, opts...)
		s.publishDone(stats)
		return stats, err
	}
	st, err := p.Run(ctx, req.Query, window, fn, opts...)
	s.publishDone([]recommit.Stats{st})
	return []recommit.Stats{st}, err
}

// ResumeRecommit continues the run saved under runID in the cursor mode it
// was started with. keyset moves an offset-paged run onto the key cursor.
func (s *Service) ResumeRecommit(ctx context.Context, runID string, window int, keyset bool) (recommit.Stats, error) {
	if window <= 0 {
		window = s.settings.RecommitWindow
	}
	var opts []recommit.RunOption
	if keyset {
		cp, err := s.store.LoadCheckpoint(ctx, runID)
		if err != nil {
			return recommit.Stats{}, err
		}
		if !cp.Keyset {
			opts = append(opts, recommit.WithKeyset(cp.LastKey))
		}
	}
	st, err := s.pipeline().Resume(ctx, runID, window, recommit.DeriveTags(s.dict), opts...)
	s.publishDone([]recommit.Stats{st})
	return st, err
}

// Checkpoint returns the saved progress of runID.
func (s *Service) Checkpoint(ctx context.Context, runID string) (models.Checkpoint, error) {
	return s.store.LoadCheckpoint(ctx, runID)
}

// ReloadDictionary reloads the catalog from its persister.
func (s *Service) ReloadDictionary(ctx context.Context) error {
	return s.dict.Load(ctx)
}

func (s *Service) pipeline() *recommit.Pipeline {
	return recommit.New(s.store, s.logger,
		recommit.WithCheckpoints(s.store),
		recommit.WithMetrics(s.metrics.Recommit),
		recommit.WithProgress(func(p recommit.Progress) { s.publish(sse.TypeRecommitBatch, p) }),
	)
}

func (s *Service) threshold(minimumCount int) int {
	if minimumCount < 0 {
		return s.settings.MinimumCount
	}
	return minimumCount
}

func (s *Service) publish(eventType string, data any) {
	if s.pub != nil {
		s.pub.PublishProgress(eventType, data)
	}
}

func (s *Service) publishDone(stats []recommit.Stats) {
	for _, st := range stats {
		if st.RunID != "" {
			s.publish(sse.TypeRecommitDone, st)
		}
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// PutTag registers a tag or renames an existing serial. An identifier
// already owned by another serial is a conflict. The dictionary is persisted
// immediately.
func (s *Service) PutTag(ctx context.Context, serial models.Serial, identifier string) (TagView, error) {
	id := models.ParseIdentifier(identifier)
	if serial == 0 || len(id) == 0 {
		return TagView{}, fmt.Errorf("service: put tag: %w: serial and identifier are required", apperr.ErrInvalidArgument)
	}
	if strings.HasPrefix(id.String(), dictionary.SerialTokenPrefix) {
		return TagView{}, fmt.Errorf("service: put tag: %w: identifier %q starts with %q", apperr.ErrInvalidArgument, id, dictionary.SerialTokenPrefix)
	}
	if owner, err := s.dict.Resolve(id.String()); err == nil && owner.Serial != serial {
		return TagView{}, fmt.Errorf("service: put tag: %w: %s already names tag %s", apperr.ErrConflict, id, owner.Serial)
	}
	def := models.TagDefinition{Serial: serial, Identifier: id}
	if old, err := s.dict.Definition(serial); err == nil {
		def.OffsetPaths = old.OffsetPaths
		def.UnitCount = old.UnitCount
	}
	s.dict.Put(def)
	if err := s.dict.Persist(ctx); err != nil {
		return TagView{}, err
	}
	s.logger.Info("dictionary: tag stored", slog.String("serial", serial.String()), slog.String("identifier", id.String()))
	return newTagView(def), nil
}
