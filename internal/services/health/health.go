package health

import (
	"context"
	"database/sql"
	"time"
)

// Service reports process liveness and backing-store reachability.
type Service struct {
	DB *sql.DB
}

// NewService constructs a new health service.
func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Status returns a health payload. The process is considered up as long as it
// can answer; the database entry reflects a live ping when one is configured.
func (s *Service) Status(ctx context.Context) map[string]any {
	out := map[string]any{"ok": true}

	if s.DB == nil {
		out["database"] = "memory"
		return out
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		out["ok"] = false
		out["database"] = "unreachable"
		return out
	}
	out["database"] = "up"
	return out
}
