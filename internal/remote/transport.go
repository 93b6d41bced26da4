package remote

import (
	"fmt"

	"github.com/nhle/fleetdash/internal/model"
	feedsync "github.com/nhle/fleetdash/internal/sync"
)

// NewTransport builds the push transport selected in cfg.
func NewTransport(cfg model.PushConfig, token string) (feedsync.Transport, error) {
	switch cfg.Transport {
	case "", "websocket":
		return NewWebSocketTransport(cfg.URL, token), nil
	case "nats":
		return NewNATSTransport(cfg.URL, cfg.Subject, token), nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Transport)
	}
}
