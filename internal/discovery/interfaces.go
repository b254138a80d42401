package discovery

import (
	"context"
	"errors"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// ErrNotFound is returned when a mechanism has no broker address to offer
var ErrNotFound = errors.New("broker address not found")

// Discovery defines the interface for locating the broker control endpoint
type Discovery interface {
	// FindBroker returns the broker's control endpoint
	FindBroker(ctx context.Context) (mechos.Endpoint, error)
}
