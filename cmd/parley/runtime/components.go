package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/scenario"
	"github.com/harunnryd/parley/internal/session"
	"github.com/harunnryd/parley/internal/store"
	"github.com/harunnryd/parley/internal/transport"
)

const noticeBuffer = 32

type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config      *config.Config
	WorkspaceID string

	StoreWorker *store.Worker
	Catalog     *scenario.Catalog
	Adapter     transport.Adapter
	Controller  *session.Controller

	// Notices carries controller notices to the presentation layer. Notices
	// that arrive while it is full are dropped.
	Notices chan session.Notice
}

func NewRuntimeComponents(ctx context.Context, cfg *config.Config, workspaceID string, adapter transport.Adapter, clock func() time.Time) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	components := &RuntimeComponents{
		Ctx:         ctx,
		Cancel:      cancel,
		Config:      cfg,
		WorkspaceID: workspaceID,
		Notices:     make(chan session.Notice, noticeBuffer),
	}

	timings, err := cfg.SessionTimings()
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("session timings: %w", err)
	}

	catalog, err := scenario.LoadCatalog(cfg.Scenarios.Path)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	components.Catalog = catalog

	if adapter == nil {
		adapter, err = NewTransportAdapter(cfg.Realtime, timings)
		if err != nil {
			components.cleanup()
			return nil, err
		}
	}
	components.Adapter = adapter

	var recorder session.Recorder
	if cfg.Session.Record {
		worker, err := OpenStore(cfg, workspaceID)
		if err != nil {
			components.cleanup()
			return nil, fmt.Errorf("init store worker: %w", err)
		}
		components.StoreWorker = worker
		recorder = NewStoreRecorder(worker)
	}

	controller, err := session.NewController(session.Deps{
		Adapter:    adapter,
		Catalog:    catalog,
		Builder:    scenario.NewBuilder(cfg.Prompts.Preamble, cfg.Prompts.Closing),
		Psychology: scenario.NewPsychologyGenerator(cfg.Scenarios.Seed),
		Recorder:   recorder,
		Notifier:   components.notify,
	}, session.RuntimeConfig{
		Timings:         timings,
		InboxSize:       cfg.Session.InboxSize,
		DefaultScenario: cfg.Session.DefaultScenario,
		DefaultVoice:    cfg.Realtime.Voice,
		Clock:           clock,
	})
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init session controller: %w", err)
	}
	components.Controller = controller

	return components, nil
}

func (rc *RuntimeComponents) notify(n session.Notice) {
	select {
	case rc.Notices <- n:
	default:
		slog.Debug("Dropping notice", "message", n.Message)
	}
}

// Stop ends any running session, then releases the store.
func (rc *RuntimeComponents) Stop() {
	rc.cleanup()
}

func (rc *RuntimeComponents) cleanup() {
	if rc.Controller != nil {
		if err := rc.Controller.Close(); err != nil {
			slog.Warn("Failed to close session controller", "error", err)
		}
	}
	if rc.StoreWorker != nil {
		rc.StoreWorker.Stop()
	}
	if rc.Cancel != nil {
		rc.Cancel()
	}
}
