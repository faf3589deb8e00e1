package ports

//go:generate mockgen -source=health.go -destination=mocks/mock_health.go -package=mocks

import "context"

// HealthChecker checks external dependency health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}
