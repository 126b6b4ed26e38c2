package medtracker

import (
	"net/http"
	"time"
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

func healthHandler(service, version string, now func() time.Time) JSONHandler {
	return func(*http.Request) (any, error) {
		return &HealthResponse{
			Status:    "healthy",
			Timestamp: now().UTC(),
			Service:   service,
			Version:   version,
		}, nil
	}
}
