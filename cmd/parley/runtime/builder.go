package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/transport"
)

type RuntimeBuilder interface {
	WithContext(ctx context.Context) RuntimeBuilder
	WithConfig(cfg *config.Config) RuntimeBuilder
	WithWorkspace(workspaceID string) RuntimeBuilder
	WithAdapter(adapter transport.Adapter) RuntimeBuilder
	WithClock(clock func() time.Time) RuntimeBuilder
	Build() (*RuntimeComponents, error)
}

type DefaultRuntimeBuilder struct {
	ctx         context.Context
	cfg         *config.Config
	workspaceID string
	adapter     transport.Adapter
	clock       func() time.Time
}

func NewRuntimeBuilder() RuntimeBuilder {
	return &DefaultRuntimeBuilder{}
}

func (b *DefaultRuntimeBuilder) WithContext(ctx context.Context) RuntimeBuilder {
	b.ctx = ctx
	return b
}

func (b *DefaultRuntimeBuilder) WithConfig(cfg *config.Config) RuntimeBuilder {
	b.cfg = cfg
	return b
}

func (b *DefaultRuntimeBuilder) WithWorkspace(workspaceID string) RuntimeBuilder {
	b.workspaceID = workspaceID
	return b
}

// WithAdapter replaces the adapter the configured provider would build.
func (b *DefaultRuntimeBuilder) WithAdapter(adapter transport.Adapter) RuntimeBuilder {
	b.adapter = adapter
	return b
}

func (b *DefaultRuntimeBuilder) WithClock(clock func() time.Time) RuntimeBuilder {
	b.clock = clock
	return b
}

func (b *DefaultRuntimeBuilder) Build() (*RuntimeComponents, error) {
	if b.ctx == nil {
		b.ctx = context.Background()
	}

	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if b.workspaceID == "" {
		b.workspaceID = DefaultWorkspaceID
	}

	return NewRuntimeComponents(b.ctx, b.cfg, b.workspaceID, b.adapter, b.clock)
}
