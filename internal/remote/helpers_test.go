package remote

import "github.com/nhle/fleetdash/internal/model"

func pushConfig(transport string) model.PushConfig {
	return model.PushConfig{Transport: transport, URL: "ws://localhost:1/ws", Subject: "fleet.notifications"}
}
