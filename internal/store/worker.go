package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/parley/internal/config"
	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"github.com/natefinch/atomic"
)

type Operation int

const (
	OpRecordSession Operation = iota
	OpReadTranscript
	OpGetSession
	OpListSessions
	OpResetSession
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type RecordSessionPayload struct {
	Record Record
}

type ReadTranscriptPayload struct {
	SessionID string
	Limit     int // 0 = all
}

type GetSessionPayload struct {
	SessionID string
}

type ResetSessionPayload struct {
	SessionID string
}

// Worker owns a workspace's files. All reads and writes go through its
// single goroutine, and the workspace lock keeps other processes out.
type Worker struct {
	workspaceID              string
	basePath                 string
	inbox                    chan Request
	fileLock                 *FileLock
	quit                     chan struct{}
	stopOnce                 sync.Once
	wg                       sync.WaitGroup
	sessionIndex             *SessionIndex
	running                  stdatomic.Bool
	transcriptRotateMaxBytes int64
	now                      func() time.Time
}

type RuntimeConfig struct {
	LockTimeout              time.Duration
	LockRetry                time.Duration
	LockMaxRetry             int
	InboxSize                int
	TranscriptRotateMaxBytes int64
}

// RuntimeConfigFrom parses the store section of the configuration.
func RuntimeConfigFrom(cfg config.StoreConfig) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_retry: %w", err)
	}
	return RuntimeConfig{
		LockTimeout:              lockTimeout,
		LockRetry:                lockRetry,
		LockMaxRetry:             cfg.LockMaxRetry,
		InboxSize:                cfg.InboxSize,
		TranscriptRotateMaxBytes: cfg.TranscriptRotateMaxBytes,
	}, nil
}

func NewWorker(workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}

	sessionsDir := filepath.Join(basePath, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", sessionsDir, err)
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.TranscriptRotateMaxBytes <= 0 {
		runtimeCfg.TranscriptRotateMaxBytes = config.DefaultStoreTranscriptRotateMaxBytes
	}

	fileLock, err := NewFileLock(workspaceID, basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	sessionIndex := &SessionIndex{Sessions: make(map[string]SessionMeta)}
	indexPath := filepath.Join(sessionsDir, "index.json")
	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, sessionIndex); err != nil {
			slog.Warn("Failed to parse session index, starting fresh", "error", err)
		}
		if sessionIndex.Sessions == nil {
			sessionIndex.Sessions = make(map[string]SessionMeta)
		}
	}

	return &Worker{
		workspaceID:              workspaceID,
		basePath:                 basePath,
		inbox:                    make(chan Request, runtimeCfg.InboxSize),
		fileLock:                 fileLock,
		quit:                     make(chan struct{}),
		sessionIndex:             sessionIndex,
		transcriptRotateMaxBytes: runtimeCfg.TranscriptRotateMaxBytes,
		now:                      time.Now,
	}, nil
}

func (w *Worker) Start() {
	w.running.Store(true)
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Debug("StoreWorker started", "workspace", w.workspaceID)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Debug("StoreWorker stopping", "workspace", w.workspaceID)
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpRecordSession:
		p, ok := req.Payload.(RecordSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for RecordSession")
		}
		return w.recordSession(p.Record)
	case OpReadTranscript:
		p, ok := req.Payload.(ReadTranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ReadTranscript")
		}
		entries, err := w.readTranscript(p.SessionID, p.Limit)
		req.Response <- entries
		return err
	case OpGetSession:
		p, ok := req.Payload.(GetSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetSession")
		}
		meta, ok := w.sessionIndex.Sessions[p.SessionID]
		if !ok {
			req.Response <- nil
			return parleyErrors.NotFound(fmt.Sprintf("session %s", p.SessionID))
		}
		req.Response <- &meta
		return nil
	case OpListSessions:
		req.Response <- w.listSessions()
		return nil
	case OpResetSession:
		p, ok := req.Payload.(ResetSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ResetSession")
		}
		return w.resetSession(p.SessionID)
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) transcriptPath(sessionID string) string {
	return filepath.Join(w.basePath, "sessions", sessionID+".jsonl")
}

func (w *Worker) recordSession(rec Record) error {
	id := rec.Meta.ID
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) {
		return parleyErrors.InvalidInput(fmt.Sprintf("invalid session id %q", id))
	}

	var buf bytes.Buffer
	for _, e := range rec.Transcript {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode transcript entry %s: %w", e.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if buf.Len() > 0 {
		if err := w.appendTranscript(id, buf.Bytes()); err != nil {
			return err
		}
	}

	now := w.now()
	meta := rec.Meta
	if prev, ok := w.sessionIndex.Sessions[id]; ok {
		meta.CreatedAt = prev.CreatedAt
	} else {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	w.sessionIndex.Sessions[id] = meta
	return w.saveSessionIndex()
}

func (w *Worker) readTranscript(sessionID string, limit int) ([]TranscriptEntry, error) {
	f, err := os.Open(w.transcriptPath(sessionID))
	if os.IsNotExist(err) {
		if _, known := w.sessionIndex.Sessions[sessionID]; known {
			return []TranscriptEntry{}, nil
		}
		return nil, parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := []TranscriptEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e TranscriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping malformed transcript line", "session", sessionID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:], nil
	}
	return entries, nil
}

func (w *Worker) listSessions() []SessionMeta {
	out := make([]SessionMeta, 0, len(w.sessionIndex.Sessions))
	for _, m := range w.sessionIndex.Sessions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (w *Worker) saveSessionIndex() error {
	path := filepath.Join(w.basePath, "sessions", "index.json")
	data, err := json.MarshalIndent(w.sessionIndex, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func (w *Worker) appendTranscript(sessionID string, data []byte) error {
	path := w.transcriptPath(sessionID)

	if err := w.checkAndRotate(sessionID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "session", sessionID, "error", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func (w *Worker) resetSession(sessionID string) error {
	path := w.transcriptPath(sessionID)
	_, indexed := w.sessionIndex.Sessions[sessionID]

	backups, _ := filepath.Glob(path + ".*.bak")
	removed := false
	for _, p := range append([]string{path}, backups...) {
		err := os.Remove(p)
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) {
			return err
		}
	}

	if !indexed && !removed {
		return parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	delete(w.sessionIndex.Sessions, sessionID)
	return w.saveSessionIndex()
}

func (w *Worker) checkAndRotate(sessionID, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() < w.transcriptRotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "session", sessionID, "size", info.Size())

	backupPath := fmt.Sprintf("%s.%s.bak", path, w.now().Format("20060102150405.000000000"))
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// send queues req, failing once the worker has stopped.
func (w *Worker) send(req Request) error {
	if !w.running.Load() {
		return fmt.Errorf("store worker is not running: %w", parleyErrors.ErrClosed)
	}
	select {
	case w.inbox <- req:
	case <-w.quit:
		return fmt.Errorf("store worker stopped: %w", parleyErrors.ErrClosed)
	}
	select {
	case err := <-req.Result:
		return err
	case <-w.quit:
		return fmt.Errorf("store worker stopped: %w", parleyErrors.ErrClosed)
	}
}

// Public API for other components

// RecordSession appends the transcript and upserts the index entry.
func (w *Worker) RecordSession(rec Record) error {
	return w.send(Request{
		Op:      OpRecordSession,
		Payload: RecordSessionPayload{Record: rec},
		Result:  make(chan error, 1),
	})
}

func (w *Worker) ReadTranscript(sessionID string, limit int) ([]TranscriptEntry, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpReadTranscript,
		Payload:  ReadTranscriptPayload{SessionID: sessionID, Limit: limit},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).([]TranscriptEntry), nil
}

func (w *Worker) GetSession(id string) (*SessionMeta, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpGetSession,
		Payload:  GetSessionPayload{SessionID: id},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).(*SessionMeta), nil
}

// ListSessions returns the indexed sessions, newest first.
func (w *Worker) ListSessions() ([]SessionMeta, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpListSessions,
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).([]SessionMeta), nil
}

// ResetSession deletes a session's transcript, its rotated backups and
// its index entry.
func (w *Worker) ResetSession(sessionID string) error {
	return w.send(Request{
		Op:      OpResetSession,
		Payload: ResetSessionPayload{SessionID: sessionID},
		Result:  make(chan error, 1),
	})
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		slog.Debug("StoreWorker Stop called", "workspace", w.workspaceID, "lock_held", w.fileLock.IsLocked())

		close(w.quit)
		w.wg.Wait()

		if w.fileLock.IsLocked() {
			w.fileLock.Unlock()
		}
	})
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
