package bindgen

import (
	"context"

	"go.uber.org/zap"
)

// DelayFunction schedules fn to run later, outside of any boundary call.
// It is used to flush releases queued by finalizers of shared objects.
type DelayFunction func(fn func(ctx context.Context) error) error

type IEngineConfig interface {
	Logger() *zap.Logger
	AutoRelease() bool
	DelayFunction() DelayFunction
}

type EngineConfig struct {
	logger        *zap.Logger
	autoRelease   bool
	delayFunction DelayFunction
}

// NewConfig returns the default configuration: no logging and shared
// objects released automatically when their proxies are garbage collected.
func NewConfig() *EngineConfig {
	return &EngineConfig{
		logger:      zap.NewNop(),
		autoRelease: true,
	}
}

func (c *EngineConfig) Logger() *zap.Logger {
	return c.logger
}

func (c *EngineConfig) AutoRelease() bool {
	return c.autoRelease
}

func (c *EngineConfig) DelayFunction() DelayFunction {
	return c.delayFunction
}

// WithLogger sets the logger, a nil logger disables logging.
func (c *EngineConfig) WithLogger(logger *zap.Logger) *EngineConfig {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	return c
}

// WithAutoRelease toggles finalizer driven release of shared objects.
// Exclusive objects always need an explicit Delete.
func (c *EngineConfig) WithAutoRelease(enabled bool) *EngineConfig {
	c.autoRelease = enabled
	return c
}

// WithDelayFunction sets how queued releases are flushed. Without one they
// are flushed at the start of the next top level call.
func (c *EngineConfig) WithDelayFunction(fn DelayFunction) *EngineConfig {
	c.delayFunction = fn
	return c
}
