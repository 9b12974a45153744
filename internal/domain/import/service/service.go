// Package service provides the import orchestration logic: the session state
// machine, the background classification pipeline, and row confirmation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/finly-app/finly/internal/domain/common"
	"github.com/finly-app/finly/internal/domain/import/ai"
	"github.com/finly-app/finly/internal/domain/import/bankformat"
	"github.com/finly-app/finly/internal/domain/import/classifier"
	"github.com/finly-app/finly/internal/domain/import/parser"
	"github.com/finly-app/finly/internal/domain/import/repository"
	"github.com/finly-app/finly/pkg/observability"
)

// Row actions.
const (
	ActionConfirm = "CONFIRM"
	ActionSkip    = "SKIP"
)

// Bulk confirmation scopes.
const (
	ScopeAuto = "AUTO"
	ScopeAll  = "ALL"
)

// Config tunes the pipeline.
type Config struct {
	Workers      int
	QueueSize    int
	AIBatchSize  int
	StallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.AIBatchSize <= 0 {
		c.AIBatchSize = 20
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 15 * time.Minute
	}
	return c
}

type pipelineJob struct {
	session *repository.ImportSession
	rows    []bankformat.RawRow
}

// ImportService orchestrates statement uploads through classification,
// review, and materialization.
type ImportService struct {
	repo   repository.ImportRepository
	ai     ai.Classifier
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	jobs chan pipelineJob
	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewImportService creates a new import service. Call Start before accepting
// uploads and Stop on shutdown.
func NewImportService(repo repository.ImportRepository, aiClassifier ai.Classifier, cfg Config, logger *slog.Logger) *ImportService {
	cfg = cfg.withDefaults()
	return &ImportService{
		repo:   repo,
		ai:     aiClassifier,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("finly/import"),
		jobs:   make(chan pipelineJob, cfg.QueueSize),
	}
}

// Start launches the bounded worker pool and the stall watchdog. Uploads are
// dispatched to these workers rather than spawning a goroutine per session.
func (s *ImportService) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case job, ok := <-s.jobs:
					if !ok {
						return
					}
					s.runPipeline(ctx, job)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	s.wg.Add(1)
	go s.watchdog(ctx)
}

// Stop cancels the workers and waits for in-flight pipelines to finish their
// current step.
func (s *ImportService) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

var supportedExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".txt": true,
	".xlsx": true, ".xlsm": true, ".xls": true,
}

var supportedContentTypes = map[string]bool{
	"text/csv":                  true,
	"text/tab-separated-values": true,
	"text/plain":                true,
	"application/vnd.ms-excel":  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/octet-stream":                                          true,
}

func uploadSupported(filename, contentType string) bool {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		if supportedExtensions[strings.ToLower(filename[idx:])] {
			return true
		}
	}
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return supportedContentTypes[strings.TrimSpace(strings.ToLower(contentType))]
}

// CreateSession validates and parses the upload synchronously, persists the
// session in PARSING, and enqueues the classification pipeline. The caller
// gets the session id before any classification runs.
func (s *ImportService) CreateSession(ctx context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*repository.ImportSession, error) {
	if len(data) == 0 {
		return nil, common.ErrFileRequired
	}
	if !uploadSupported(filename, contentType) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedFile, contentType)
	}

	result, err := parser.Parse(data, filename)
	if err != nil {
		if errors.Is(err, parser.ErrEmptyFile) {
			return nil, common.ErrEmptyFile
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedFile, err)
	}
	if len(result.Rows) == 0 {
		return nil, common.ErrEmptyFile
	}

	session := &repository.ImportSession{
		ID:            uuid.New(),
		UserID:        userID,
		Status:        repository.SessionParsing,
		SourceFile:    filename,
		BankFormat:    result.FormatID,
		RowCount:      len(result.Rows),
		ProgressTotal: len(result.Rows),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create import session: %w", err)
	}

	select {
	case s.jobs <- pipelineJob{session: session, rows: result.Rows}:
	default:
		// A full queue fails the session up front instead of blocking the
		// upload request.
		msg := "import queue is full"
		if _, terr := s.repo.TransitionSession(ctx, session.ID, repository.SessionParsing, repository.SessionFailed, &msg); terr != nil {
			s.logger.Error("failed to fail session on full queue", "error", terr, "session_id", session.ID)
		}
		observability.ImportSessionsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: import queue is full", common.ErrConflict)
	}

	observability.ImportSessionsTotal.WithLabelValues("started").Inc()
	return session, nil
}

// runPipeline executes classification for one session: rule pass, partition,
// persist, AI fallback, and the REVIEWING transition. Any unrecovered error
// forces the session to FAILED; nothing retries.
func (s *ImportService) runPipeline(ctx context.Context, job pipelineJob) {
	ctx, span := s.tracer.Start(ctx, "import.pipeline",
		trace.WithAttributes(attribute.String("session_id", job.session.ID.String())))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("import pipeline panic", "panic", rec, "session_id", job.session.ID)
			s.failSession(ctx, job.session.ID, fmt.Sprintf("pipeline panic: %v", rec))
		}
	}()

	if err := s.classifyAndPersist(ctx, job); err != nil {
		s.logger.Error("import pipeline failed", "error", err, "session_id", job.session.ID)
		s.failSession(ctx, job.session.ID, err.Error())
		return
	}

	if err := s.repo.UpdateSessionProgress(ctx, job.session.ID, job.session.RowCount); err != nil {
		s.logger.Warn("failed to write final progress", "error", err, "session_id", job.session.ID)
	}

	ok, err := s.repo.TransitionSession(ctx, job.session.ID, repository.SessionParsing, repository.SessionReviewing, nil)
	if err != nil {
		s.logger.Error("failed to transition session to reviewing", "error", err, "session_id", job.session.ID)
		return
	}
	if !ok {
		// The watchdog already failed this session; its rows stay orphaned.
		s.logger.Warn("session no longer parsing; skipping reviewing transition", "session_id", job.session.ID)
		return
	}

	observability.ImportSessionsTotal.WithLabelValues("reviewing").Inc()
}

func (s *ImportService) classifyAndPersist(ctx context.Context, job pipelineJob) error {
	classified := classifier.Classify(job.rows)

	var autoCount, reviewCount int
	for _, row := range classified {
		if row.AutoAccept() {
			autoCount++
		} else {
			reviewCount++
		}
	}

	if err := s.repo.SetSessionCounts(ctx, job.session.ID, autoCount, reviewCount); err != nil {
		return fmt.Errorf("failed to set session counts: %w", err)
	}

	// Persist everything up front so progress is observable before the AI
	// fallback finishes.
	persisted := make([]*repository.ImportRow, len(classified))
	var fallback []*repository.ImportRow
	for i, row := range classified {
		persisted[i] = toImportRow(job.session.ID, i, row)
		if !row.AutoAccept() {
			fallback = append(fallback, persisted[i])
		}
	}
	if err := s.repo.InsertRows(ctx, persisted); err != nil {
		return fmt.Errorf("failed to persist classified rows: %w", err)
	}
	observability.RowsClassifiedTotal.WithLabelValues("rule").Add(float64(autoCount))

	done := autoCount
	if err := s.repo.UpdateSessionProgress(ctx, job.session.ID, done); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	if len(fallback) == 0 {
		return nil
	}

	return s.runFallback(ctx, job.session.ID, fallback, &done)
}

// runFallback classifies the needs-review set in chunks, merging results and
// bumping progress one row at a time so a polling client sees live progress.
// A provider failure fails the whole session rather than silently dropping
// rows.
func (s *ImportService) runFallback(ctx context.Context, sessionID uuid.UUID, rows []*repository.ImportRow, done *int) error {
	ctx, span := s.tracer.Start(ctx, "import.ai_fallback",
		trace.WithAttributes(attribute.Int("rows", len(rows))))
	defer span.End()

	for start := 0; start < len(rows); start += s.cfg.AIBatchSize {
		end := start + s.cfg.AIBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		batch := make([]ai.Request, len(chunk))
		for i, row := range chunk {
			batch[i] = toAIRequest(row)
		}

		began := time.Now()
		results, err := s.ai.ClassifyBatch(ctx, batch)
		observability.AIBatchDuration.Observe(time.Since(began).Seconds())
		if err != nil {
			observability.AIBatchesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("ai fallback batch failed: %w", err)
		}
		observability.AIBatchesTotal.WithLabelValues("ok").Inc()

		if len(results) != len(chunk) {
			return fmt.Errorf("ai fallback returned %d results for %d rows", len(results), len(chunk))
		}

		for i, row := range chunk {
			mergeAIResult(row, results[i])
			if err := s.repo.UpdateRowClassification(ctx, row); err != nil {
				return fmt.Errorf("failed to store ai classification: %w", err)
			}
			*done++
			if err := s.repo.UpdateSessionProgress(ctx, sessionID, *done); err != nil {
				return fmt.Errorf("failed to update progress: %w", err)
			}
			observability.RowsClassifiedTotal.WithLabelValues("ai").Inc()
		}
	}

	return nil
}

func (s *ImportService) failSession(ctx context.Context, sessionID uuid.UUID, msg string) {
	ok, err := s.repo.TransitionSession(ctx, sessionID, repository.SessionParsing, repository.SessionFailed, &msg)
	if err != nil {
		s.logger.Error("failed to mark session failed", "error", err, "session_id", sessionID)
		return
	}
	if ok {
		observability.ImportSessionsTotal.WithLabelValues("failed").Inc()
	}
}

// watchdog periodically fails sessions stuck in PARSING past the stall
// timeout. Liveness is the updated_at touch on every progress write.
func (s *ImportService) watchdog(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.StallTimeout / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.MarkStalledSessions(ctx, s.cfg.StallTimeout)
			if err != nil {
				s.logger.Error("watchdog sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Warn("marked stalled import sessions failed", "count", n)
				observability.ImportSessionsTotal.WithLabelValues("stalled").Add(float64(n))
			}
		}
	}
}
