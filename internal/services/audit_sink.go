package services

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/pkg/logger"
	"gorm.io/gorm"
)

const TaskTypeAuditRecord = "audit:record"

// AuditSink receives audit entries for persistence.
type AuditSink interface {
	Enqueue(entry *models.AuditLog) error
	// IsAsync returns true if entries are persisted asynchronously
	IsAsync() bool
	// Close gracefully shuts down the sink
	Close() error
}

// InitAuditSink picks the Redis-backed async sink when Redis is enabled
// and reachable, otherwise falls back to synchronous inserts.
func InitAuditSink(cfg *config.RedisConfig, db *gorm.DB) AuditSink {
	if cfg.Enabled {
		sink, err := NewAsyncAuditSink(cfg)
		if err != nil {
			logger.Infof("[Audit] Redis unavailable, falling back to sync sink: %v", err)
			return NewSyncAuditSink(db)
		}
		logger.Infof("[Audit] Async sink initialized with Redis at %s", cfg.Addr)
		return sink
	}
	logger.Infof("[Audit] Sync sink initialized (Redis disabled)")
	return NewSyncAuditSink(db)
}

// SyncAuditSink writes entries straight to the database.
type SyncAuditSink struct {
	db *gorm.DB
}

func NewSyncAuditSink(db *gorm.DB) *SyncAuditSink {
	return &SyncAuditSink{db: db}
}

func (s *SyncAuditSink) Enqueue(entry *models.AuditLog) error {
	return s.db.Create(entry).Error
}

func (s *SyncAuditSink) IsAsync() bool { return false }

func (s *SyncAuditSink) Close() error { return nil }

// AsyncAuditSink queues entries through asynq (Redis-based); a worker
// performs the actual insert.
type AsyncAuditSink struct {
	client *asynq.Client
}

func NewAsyncAuditSink(cfg *config.RedisConfig) (*AsyncAuditSink, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection before committing to async mode
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncAuditSink{client: client}, nil
}

func (s *AsyncAuditSink) Enqueue(entry *models.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeAuditRecord, payload)
	_, err = s.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	return err
}

func (s *AsyncAuditSink) IsAsync() bool { return true }

func (s *AsyncAuditSink) Close() error { return s.client.Close() }

// AuditWorker drains queued audit entries into the database.
type AuditWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	db     *gorm.DB
}

// NewAuditWorker returns nil when Redis is disabled; the sync sink needs
// no worker.
func NewAuditWorker(cfg *config.RedisConfig, db *gorm.DB) *AuditWorker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[AuditWorker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	w := &AuditWorker{
		server: server,
		mux:    asynq.NewServeMux(),
		db:     db,
	}
	w.mux.HandleFunc(TaskTypeAuditRecord, w.handleAuditRecord)
	return w
}

func (w *AuditWorker) handleAuditRecord(ctx context.Context, task *asynq.Task) error {
	var entry models.AuditLog
	if err := json.Unmarshal(task.Payload(), &entry); err != nil {
		return err
	}
	entry.ID = 0
	return w.db.WithContext(ctx).Create(&entry).Error
}

// Start begins draining the queue in the background.
func (w *AuditWorker) Start() error {
	return w.server.Start(w.mux)
}

// Stop shuts the worker down gracefully.
func (w *AuditWorker) Stop() {
	w.server.Shutdown()
}
