package jwtkeys

import (
	"context"
	"time"

	"github.com/ridepulse/dispatch/pkg/config"
)

// NewManagerFromConfig maps the service JWT configuration onto a Manager.
// Read-only managers follow the key file without rotating it.
func NewManagerFromConfig(ctx context.Context, cfg config.JWTConfig, readOnly bool) (*Manager, error) {
	mc := Config{
		KeyFilePath:  cfg.KeyFile,
		LegacySecret: cfg.Secret,
		ReadOnly:     readOnly,
	}
	mc.RotationInterval = time.Duration(cfg.RotationHours) * time.Hour
	mc.GracePeriod = time.Duration(cfg.GraceHours) * time.Hour
	return NewManager(ctx, mc)
}
