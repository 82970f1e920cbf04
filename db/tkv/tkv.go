package tkv

import (
	"context"
	"log/slog"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	AppCtx         context.Context
}

// TKV is the opaque persistent key-value store every node carries. The
// federation core treats it as a get/set interface; all schema lives at
// the state boundary above it.
type TKV interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
	Iterate(prefix string, offset int, limit int) ([]string, error)

	Close() error
}
