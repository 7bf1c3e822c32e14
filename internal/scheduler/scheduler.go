// Package scheduler runs pending jobs against the generation provider
// with a bounded pool of worker slots. Claiming is a compare-and-swap
// on job status inside the store, so no two workers ever run the same
// job, in this process or any other sharing the store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/providers/prompt"
	"server/internal/providers/render"
	"server/internal/storage"
	"server/internal/store"
)

// Progress checkpoints emitted while a job moves through the provider
// call. Advisory UI hints only, but always non-decreasing.
const (
	progressClaimed   = 10
	progressResolved  = 25
	progressAwaiting  = 50
	progressReceived  = 80
	progressPersisted = 95
	progressDone      = 100
)

// JobObserver is notified when a claimed job reaches a terminal status.
// The batch orchestrator uses it to aggregate outcomes.
type JobObserver interface {
	OnJobFinished(ctx context.Context, job *domain.Job, failed bool, reason string)
}

// Scheduler pulls jobs from the store and executes them.
type Scheduler struct {
	store        store.Store
	provider     render.Generator
	resolver     *prompt.Resolver
	files        *storage.FileStore
	bus          *notify.Bus
	observer     JobObserver
	logger       infra.Logger
	concurrency  int
	pollInterval time.Duration
	assetBaseURL string

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPollInterval sets the fallback tick between claim attempts.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithObserver registers the terminal-outcome observer.
func WithObserver(obs JobObserver) Option {
	return func(s *Scheduler) { s.observer = obs }
}

// WithAssetBaseURL sets the public URL prefix for persisted assets.
func WithAssetBaseURL(base string) Option {
	return func(s *Scheduler) { s.assetBaseURL = strings.TrimRight(base, "/") }
}

// New creates a scheduler. The default is one worker slot polling every
// two seconds, matching the product's advertised concurrency cap.
func New(st store.Store, provider render.Generator, resolver *prompt.Resolver, files *storage.FileStore, bus *notify.Bus, logger infra.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        st,
		provider:     provider,
		resolver:     resolver,
		files:        files,
		bus:          bus,
		logger:       logger,
		concurrency:  1,
		pollInterval: 2 * time.Second,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker slots and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if pending, err := s.store.ListPendingJobs(ctx); err == nil && len(pending) > 0 {
		s.logger.Info().Int("backlog", len(pending)).Msg("scheduler: resuming with pending jobs")
	}
	s.logger.Info().Int("concurrency", s.concurrency).Msg("scheduler: started")
	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}
}

// Stop shuts the worker slots down. In-flight provider calls finish
// before their slots exit; nothing is force-cancelled.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.logger.Info().Msg("scheduler: stopped")
}

// Wake signals that new work was enqueued, bypassing the next tick.
// Non-blocking; a pending wake absorbs further signals.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, slot int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.drain(ctx, slot)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// drain claims and runs jobs until the queue is empty or the store
// reports an unrelated failure, in which case the slot backs off until
// the next tick rather than crashing.
func (s *Scheduler) drain(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		job, err := s.store.ClaimJob(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				s.logger.Error().Err(err).Int("slot", slot).Msg("scheduler: claim failed, backing off")
			}
			return
		}
		s.runJob(ctx, job)
	}
}

// runJob executes one claimed job to a terminal status. A failure here
// terminates only this job; the slot is released and the loop continues.
func (s *Scheduler) runJob(ctx context.Context, job *domain.Job) {
	s.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("scheduler: picked job")
	s.checkpoint(ctx, job, progressClaimed)

	promptText, err := s.resolver.Resolve(job.PromptJSON)
	if err != nil {
		// Resolution failure is never fatal; fall back to the default.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("scheduler: prompt resolution failed, using default")
		promptText = prompt.DefaultPrompt
	}
	s.checkpoint(ctx, job, progressResolved)

	s.checkpoint(ctx, job, progressAwaiting)
	result, err := s.provider.Generate(ctx, render.Request{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		Prompt:      promptText,
		AspectRatio: job.AspectRatio,
		Provider:    job.Provider,
	})
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err))
		return
	}
	s.checkpoint(ctx, job, progressReceived)

	assetURL, thumbURL, err := s.persistResult(ctx, job, result)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("persist asset: %w", err))
		return
	}
	s.checkpoint(ctx, job, progressPersisted)

	done := progressDone
	updated, err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, store.JobPatch{
		Progress:       &done,
		ResultAssetURL: &assetURL,
		ResultThumbURL: &thumbURL,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: completion write failed")
		return
	}
	s.publishJob(updated)
	if s.observer != nil {
		s.observer.OnJobFinished(ctx, updated, false, "")
	}
	s.logger.Info().Str("job_id", job.ID).Msg("scheduler: job completed")
}

func (s *Scheduler) failJob(ctx context.Context, job *domain.Job, cause error) {
	s.logger.Error().Err(cause).Str("job_id", job.ID).Msg("scheduler: job failed")
	msg := cause.Error()
	// Progress stays frozen at its last checkpoint.
	updated, err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, store.JobPatch{
		ErrorMessage: &msg,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: failure write failed")
		return
	}
	s.publishJob(updated)
	if s.observer != nil {
		s.observer.OnJobFinished(ctx, updated, true, domain.TruncateError(msg))
	}
}

func (s *Scheduler) checkpoint(ctx context.Context, job *domain.Job, progress int) {
	updated, err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusProcessing, store.JobPatch{
		Progress: &progress,
	})
	if err != nil {
		// Checkpoints are advisory; losing one is not worth failing the job.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Int("progress", progress).Msg("scheduler: checkpoint write failed")
		return
	}
	s.publishJob(updated)
}

func (s *Scheduler) persistResult(ctx context.Context, job *domain.Job, result render.Result) (string, string, error) {
	// A provider that hosts the asset itself hands back URLs directly.
	if len(result.Data) == 0 {
		if result.AssetURL == "" {
			return "", "", errors.New("provider returned neither bytes nor a url")
		}
		return result.AssetURL, result.ThumbURL, nil
	}

	ext := extensionForMIME(result.MIME)
	assetKey, err := s.files.Write(ctx, fmt.Sprintf("generated/%s/asset%s", job.ID, ext), result.Data)
	if err != nil {
		return "", "", err
	}
	thumbURL := ""
	if len(result.ThumbData) > 0 {
		thumbKey, err := s.files.Write(ctx, fmt.Sprintf("generated/%s/thumb%s", job.ID, ext), result.ThumbData)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("scheduler: thumbnail persist failed")
		} else {
			thumbURL = s.publicURL(thumbKey)
		}
	}
	return s.publicURL(assetKey), thumbURL, nil
}

func (s *Scheduler) publicURL(key string) string {
	if s.assetBaseURL == "" {
		return key
	}
	return s.assetBaseURL + "/" + key
}

func (s *Scheduler) publishJob(job *domain.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(domain.Event{
		Type:    domain.EventJobUpdated,
		OwnerID: job.OwnerID,
		Payload: domain.NewJobView(job),
	})
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
