package logger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/database"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zapcore"
)

// LogEntry holds the data passed from Zap to our worker
type LogEntry struct {
	Level    zapcore.Level
	Message  string
	Caller   string // Function name
	TenantID string
	PermitID string
}

// LogStore persists one log record.
type LogStore interface {
	InsertLog(ctx context.Context, log common_models.Log) error
}

type mongoLogStore struct {
	collection *mongo.Collection
}

func (s *mongoLogStore) InsertLog(ctx context.Context, log common_models.Log) error {
	_, err := s.collection.InsertOne(ctx, log)
	return err
}

// DBLogWriter handles the async writing
type DBLogWriter struct {
	store   LogStore
	logChan chan LogEntry
	appId   string
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDBLogWriter initializes the worker
func NewDBLogWriter(mongodb *database.MongodbDB, cfg *config.Config) *DBLogWriter {
	return newDBLogWriter(&mongoLogStore{collection: mongodb.DB.Collection("logs")}, cfg.AppId, 1000)
}

func newDBLogWriter(store LogStore, appId string, buffer int) *DBLogWriter {
	writer := &DBLogWriter{
		store:   store,
		logChan: make(chan LogEntry, buffer),
		appId:   appId,
		done:    make(chan struct{}),
	}

	// Start the background worker immediately
	go writer.processLogs()

	return writer
}

// AddLog is called by our Zap hook. It never blocks the caller.
func (w *DBLogWriter) AddLog(entry LogEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.logChan <- entry:
	default:
		// Channel full: drop rather than stall a permit transition
		fmt.Fprintln(os.Stderr, "DB Log Channel Full! Dropping log:", entry.Message)
	}
}

// Close stops accepting entries and waits for the buffered ones to be written.
func (w *DBLogWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.logChan)
	w.mu.Unlock()

	<-w.done
}

func (w *DBLogWriter) processLogs() {
	defer close(w.done)

	for entry := range w.logChan {
		logRecord := common_models.Log{
			Message:      entry.Message,
			Caller:       entry.Caller,
			TenantID:     entry.TenantID,
			PermitID:     entry.PermitID,
			AppID:        w.appId,
			LogLevelId:   mapLevelToInt(entry.Level),
			CreatedOnUtc: time.Now().UTC(),
		}

		// Errors are ignored to keep the app running
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = w.store.InsertLog(ctx, logRecord)
		cancel()
	}
}

func mapLevelToInt(l zapcore.Level) int {
	switch l {
	case zapcore.DebugLevel:
		return 10
	case zapcore.InfoLevel:
		return 20
	case zapcore.WarnLevel:
		return 30
	case zapcore.ErrorLevel:
		return 40
	case zapcore.FatalLevel:
		return 50
	default:
		return 20
	}
}
