package blockwheel

import (
	"go.uber.org/zap"

	"github.com/swizard0/blockwheel/internal/defrag"
)

// Config holds the driver-owned settings spec §6 enumerates, filled in by
// applying Options to defaultConfig inside Open. It mirrors the teacher's
// carv2.ReadOptions/WriteOptions: a plain struct built once at construction
// time, never mutated afterward.
type Config struct {
	WheelFilename      string
	InitWheelSizeBytes uint64
	WorkBlockSizeBytes uint64

	LRUCacheSizeBytes uint64

	DisableDefragmentation bool
	DefragConfig           defrag.Config

	Logger *zap.Logger
}

func defaultConfig(filename string) Config {
	return Config{
		WheelFilename:      filename,
		InitWheelSizeBytes: 64 * 1024 * 1024,
		WorkBlockSizeBytes: 8 * 1024 * 1024,
		LRUCacheSizeBytes:  16 * 1024 * 1024,
		DefragConfig:       defrag.DefaultConfig(),
	}
}

// Option configures a Config inside Open, following the teacher's
// carv2.ReadOption/WriteOption functional-option shape.
type Option func(*Config)

// WithInitWheelSizeBytes sets the size a brand new wheel file is created
// with. Ignored when reopening an existing file (its own header wins).
func WithInitWheelSizeBytes(n uint64) Option {
	return func(c *Config) { c.InitWheelSizeBytes = n }
}

// WithWorkBlockSizeBytes bounds how much zero-fill buffer Open allocates at
// once when laying out a brand new wheel file.
func WithWorkBlockSizeBytes(n uint64) Option {
	return func(c *Config) { c.WorkBlockSizeBytes = n }
}

// WithLRUCacheSizeBytes sets the soft byte ceiling for the read cache.
func WithLRUCacheSizeBytes(n uint64) Option {
	return func(c *Config) { c.LRUCacheSizeBytes = n }
}

// WithDisableDefragmentation turns off online relocation entirely: writes
// that don't fit any single gap fail with ErrNoSpaceLeft even if the sum of
// gaps would otherwise be enough.
func WithDisableDefragmentation(disable bool) Option {
	return func(c *Config) { c.DisableDefragmentation = disable }
}

// WithDefragInProgressTasksLimit bounds how many relocations may be
// in-flight against the interpreter at once.
func WithDefragInProgressTasksLimit(n int) Option {
	return func(c *Config) { c.DefragConfig.InProgressTasksLimit = n }
}

// WithLogger sets the structured logger the wheel and its interpreter log
// through. A nil logger (the default) is replaced with zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Logger = log }
}
