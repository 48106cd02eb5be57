package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utilitywarehouse/repo-sync/internal/lock"
	"github.com/utilitywarehouse/repo-sync/repository"
	"go.uber.org/multierr"
)

const (
	DefaultInterval = time.Hour
	DefaultTimeout  = 10 * time.Minute
	MinInterval     = time.Second
)

// Status is the outcome of a single repository check
type Status string

const (
	StatusUpToDate        Status = "up_to_date"
	StatusUpdated         Status = "updated"
	StatusUpdateAvailable Status = "update_available"
	StatusUpdateFailed    Status = "update_failed"
	StatusCheckFailed     Status = "check_failed"
)

// Source provides repositories to check
type Source interface {
	Snapshot() []*repository.Repository
}

// Config is the configuration of the scheduler
type Config struct {
	// Interval is time duration between the ticks
	Interval time.Duration
	// AutoUpdate enables updating mirrors which are behind the remote
	AutoUpdate bool
	// Timeout is the total time allowed to check and update a single repository
	Timeout time.Duration
}

// Result represents outcome of a repository check in a tick
type Result struct {
	RepoID    string    `json:"repo_id"`
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Scheduler runs the periodic sync loop.
// A Scheduler is safe for concurrent use by multiple goroutines.
type Scheduler struct {
	pool Source
	conf Config
	log  *slog.Logger

	lock    lock.Mutex // guards running, stop and stopped
	running bool
	stop    chan struct{}
	stopped chan struct{}

	tickLock lock.Mutex // makes sure ticks never overlap

	resultsLock lock.RWMutex
	lastResults []Result
}

// New creates new scheduler for the given repository source
func New(pool Source, conf Config, log *slog.Logger) (*Scheduler, error) {
	if conf.Interval == 0 {
		conf.Interval = DefaultInterval
	}
	if conf.Interval < MinInterval {
		return nil, fmt.Errorf("provided interval between ticks is too short (%s), must be >= %s", conf.Interval, MinInterval)
	}
	if conf.Timeout == 0 {
		conf.Timeout = DefaultTimeout
	}

	if log == nil {
		log = slog.Default()
	}

	return &Scheduler{
		pool: pool,
		conf: conf,
		log:  log,
	}, nil
}

// Start starts the sync loop in the background. First tick runs immediately.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running {
		s.log.Error("sync loop has already been started")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.loop(ctx, s.stop, s.stopped)
}

// Stop signals the sync loop to stop and waits for the running tick to finish
func (s *Scheduler) Stop() {
	s.lock.Lock()
	if !s.running {
		s.lock.Unlock()
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	stopped := s.stopped
	s.lock.Unlock()

	<-stopped
}

// Running returns true if the sync loop is running
func (s *Scheduler) Running() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stop, stopped chan struct{}) {
	s.log.Info("started repository sync loop", "interval", s.conf.Interval, "auto-update", s.conf.AutoUpdate)

	defer func() {
		s.lock.Lock()
		s.running = false
		s.lock.Unlock()
		close(stopped)
		s.log.Info("repository sync loop stopped")
	}()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error("repository sync tick finished with errors", "err", err)
		}

		t := time.NewTimer(s.conf.Interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		case <-stop:
			t.Stop()
			return
		}
	}
}

// Tick checks every repository of the current snapshot of the pool once.
// returned error combines errors of all the failed repositories.
func (s *Scheduler) Tick(ctx context.Context) ([]Result, error) {
	s.tickLock.Lock()
	defer s.tickLock.Unlock()

	start := time.Now()
	defer recordTick(start)

	var errs error
	repos := s.pool.Snapshot()
	results := make([]Result, 0, len(repos))

	for _, repo := range repos {
		res, err := s.check(ctx, repo)
		results = append(results, res)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s (%s): %w", repo.Name(), repo.ID(), err))
		}
	}

	s.resultsLock.Lock()
	s.lastResults = results
	s.resultsLock.Unlock()

	s.log.Debug("repository sync tick finished", "repos", len(repos), "time", time.Since(start))
	return results, errs
}

// check runs drift check and update if required on a single repository
func (s *Scheduler) check(ctx context.Context, repo *repository.Repository) (res Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.conf.Timeout)
	defer cancel()

	log := s.log.With("repo", repo.Name(), "branch", repo.Branch(), "id", repo.ID())

	res = Result{
		RepoID: repo.ID(),
		Repo:   repo.Name(),
		Branch: repo.Branch(),
	}
	defer func() {
		res.CheckedAt = time.Now()
		recordCheck(res)
	}()

	available, err := repo.IsUpdateAvailable(ctx)
	switch {
	case err != nil:
		log.Error("unable to check for updates", "err", err)
		res.Status, res.Error = StatusCheckFailed, err.Error()
		return res, err
	case !available:
		log.Info("repository is up to date")
		res.Status = StatusUpToDate
		return res, nil
	case !s.conf.AutoUpdate:
		log.Info("update available, auto-update disabled")
		res.Status = StatusUpdateAvailable
		return res, nil
	}

	if err := repo.Update(ctx); err != nil {
		log.Error("unable to update repository", "err", err)
		res.Status, res.Error = StatusUpdateFailed, err.Error()
		return res, err
	}

	log.Info("repository updated")
	res.Status = StatusUpdated
	return res, nil
}

// LastResults returns results of the last finished tick
func (s *Scheduler) LastResults() []Result {
	s.resultsLock.RLock()
	defer s.resultsLock.RUnlock()

	results := make([]Result, len(s.lastResults))
	copy(results, s.lastResults)
	return results
}
