package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/learningpaths/learningpaths/internal/auth"
	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/courses"
	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/internal/groups"
	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/progress"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

const (
	stateSaveInterval = 5 * time.Minute
	cleanupInterval   = time.Hour
)

// Daemon owns the database, the services built on it and the HTTP API server
type Daemon struct {
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	config     *config.Config
	paths      *storage.Paths
	db         *storage.DB
	courses    *courses.Service
	enrollment *enrollment.Service
	groups     *groups.Service
	progress   *progress.Service
	tokens     *auth.TokenService
	milestones *MilestoneQueue
	state      *State
	server     *http.Server
	listener   net.Listener
	apiHandler http.Handler
	workers    sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg *config.Config) (*Daemon, error) {
	log := logger.L()

	paths, err := storage.NewPathsAt(cfg.Storage.BaseDir)
	if err != nil {
		return nil, err
	}
	if err := paths.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	if err := acquireLock(paths.PIDPath()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		ctx:    ctx,
		cancel: cancel,
		config: cfg,
		paths:  paths,
	}
	fail := func(err error) (*Daemon, error) {
		cancel()
		if d.db != nil {
			d.db.Close()
		}
		os.Remove(paths.PIDPath())
		return nil, err
	}

	d.state = NewState(paths.StatePath())
	if err := d.state.Load(); err != nil {
		// Non-fatal: continue with empty state
		log.Warn("could not load previous state", "error", err)
	}

	d.db, err = openDB(cfg, paths)
	if err != nil {
		return fail(err)
	}
	log.Info("database opened", "driver", d.db.Driver().String())

	key, err := LoadSigningKey(cfg.Auth.SigningKey, paths.SigningKeyPath())
	if err != nil {
		return fail(err)
	}
	d.tokens = auth.NewTokenService(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	d.courses = coursesFor(d.db, cfg)
	d.enrollment = enrollment.NewService(d.db, d.courses, enrollment.Options{
		AllowSelfUnenrollment: cfg.Enrollment.AllowSelfUnenrollment,
	})
	d.groups = groups.NewService(d.db, d.courses)
	d.progress = progress.NewService(d.db, d.courses, progress.Options{
		CertificatesEnabled: cfg.Certificates.Enabled,
		MediaURL:            cfg.Storage.MediaURL,
	})

	d.milestones = NewMilestoneQueue(d.courses, d.state, QueueOptions{
		Async:      cfg.Milestones.Mode != config.MilestoneModeSync,
		Workers:    cfg.Milestones.Workers,
		MaxRetries: cfg.Milestones.MaxRetries,
		RetryDelay: cfg.Milestones.RetryDelay,
	})
	d.courses.OnCompletion(func(ctx context.Context, userID int64, course types.CourseKey) {
		if !d.courses.PrerequisitesEnabled() {
			return
		}
		// Async jobs outlive the request that recorded the completion
		if d.milestones.opts.Async {
			ctx = d.ctx
		}
		d.milestones.Enqueue(ctx, userID, course)
	})

	return d, nil
}

// acquireLock writes the PID file, refusing when a live daemon already holds it
func acquireLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
		if pid > 0 && processAlive(pid) {
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		logger.L().Warn("removing stale PID file", "pid", pid, "path", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	}
	if err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func coursesFor(db *storage.DB, cfg *config.Config) *courses.Service {
	return courses.NewService(db, courses.Options{
		PrerequisitesEnabled: cfg.Milestones.PrerequisitesEnabled,
	})
}

func openDB(cfg *config.Config, paths *storage.Paths) (*storage.DB, error) {
	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = paths.DBPath()
	}
	db, err := storage.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// LoadSigningKey returns the configured token signing key, else the one
// persisted at path. A new key is generated and persisted when neither exists.
func LoadSigningKey(configured, path string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if data, err := os.ReadFile(path); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return []byte(key), nil
		}
	}

	key, err := auth.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(key), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist signing key: %w", err)
	}
	logger.L().Info("[Credentials] Generated token signing key", "path", path)
	return []byte(key), nil
}

// Start launches the background workers and the API server
func (d *Daemon) Start() error {
	d.startWorkers()
	d.milestones.Start(d.ctx)

	if err := d.startAPIServer(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	d.setupSignalHandlers()

	logger.L().Info("daemon started", "addr", d.Addr(), "pid", os.Getpid())
	return nil
}

func (d *Daemon) startWorkers() {
	d.workers.Add(1)
	go d.statePersistenceWorker()

	d.workers.Add(1)
	go d.cleanupWorker()
}

func (d *Daemon) statePersistenceWorker() {
	defer d.workers.Done()
	ticker := time.NewTicker(stateSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.state.Save(); err != nil {
				logger.L().Error("error saving state", "error", err)
			}
		}
	}
}

func (d *Daemon) cleanupWorker() {
	defer d.workers.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if n := d.milestones.Cleanup(jobRetention); n > 0 {
				logger.L().Debug("[Milestones Task] Cleaned up finished jobs", "count", n)
			}
		}
	}
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.L().Info("received shutdown signal, shutting down gracefully")
			d.cancel()
		case <-d.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

func (d *Daemon) startAPIServer() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	handler := d.apiHandler
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	addr := net.JoinHostPort(d.config.Daemon.Host, strconv.Itoa(d.config.Daemon.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the API server listens on
func (d *Daemon) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Done is closed when the daemon was asked to stop
func (d *Daemon) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Stop asks the daemon to shut down; the owner of Start calls Shutdown
func (d *Daemon) Stop() {
	d.cancel()
}

func (d *Daemon) Shutdown() error {
	d.shutdownOnce.Do(func() {
		log := logger.L()
		log.Info("shutting down daemon")

		d.mu.RLock()
		server := d.server
		d.mu.RUnlock()
		if server != nil {
			timeout := d.config.Daemon.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := server.Shutdown(ctx); err != nil {
				log.Error("error shutting down API server", "error", err)
			}
			cancel()
		}

		d.cancel()
		d.milestones.Stop()
		d.workers.Wait()

		if err := d.state.Save(); err != nil {
			log.Error("error saving final state", "error", err)
			d.shutdownErr = err
		}
		if err := d.db.Close(); err != nil {
			d.shutdownErr = errors.Join(d.shutdownErr, err)
		}
		if err := os.Remove(d.paths.PIDPath()); err != nil && !os.IsNotExist(err) {
			d.shutdownErr = errors.Join(d.shutdownErr, err)
		}
		log.Info("daemon shutdown complete")
	})
	return d.shutdownErr
}

// SetAPIHandler sets the API handler served by the daemon
func (d *Daemon) SetAPIHandler(handler http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.apiHandler = handler
	if d.server != nil {
		d.server.Handler = handler
	}
}

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() map[string]interface{} {
	stats := d.state.GetStatistics()
	return map[string]interface{}{
		"pid":                  os.Getpid(),
		"uptime":               time.Since(d.state.StartTime).Round(time.Second).String(),
		"database_driver":      d.db.Driver().String(),
		"milestone_mode":       d.config.Milestones.Mode,
		"pending_milestones":   d.milestones.PendingCount(),
		"milestones_checked":   stats.MilestonesChecked,
		"milestones_fulfilled": stats.MilestonesFulfilled,
		"milestone_failures":   stats.MilestoneJobsFailed,
		"start_count":          stats.DaemonStartCount,
		"disk_usage":           d.paths.GetDiskUsage(),
		"log_file":             logger.Path(),
	}
}

func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

func (d *Daemon) GetPaths() *storage.Paths {
	return d.paths
}

func (d *Daemon) GetDB() *storage.DB {
	return d.db
}

func (d *Daemon) GetCourses() *courses.Service {
	return d.courses
}

func (d *Daemon) GetEnrollment() *enrollment.Service {
	return d.enrollment
}

func (d *Daemon) GetGroups() *groups.Service {
	return d.groups
}

func (d *Daemon) GetProgress() *progress.Service {
	return d.progress
}

func (d *Daemon) GetTokens() *auth.TokenService {
	return d.tokens
}

func (d *Daemon) GetMilestones() *MilestoneQueue {
	return d.milestones
}

// GetState returns the daemon state
func (d *Daemon) GetState() *State {
	return d.state
}
