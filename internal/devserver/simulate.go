package devserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nhle/fleetdash/internal/model"
)

type template struct {
	typ     model.NotificationType
	title   string
	message string
}

// Every title takes one number and every message two.
var templates = []template{
	{model.TypeAlert, "Engine fault on VEH-%d", "Check-engine code %d reported. Driver DRV-%d notified."},
	{model.TypeAlert, "Harsh braking on RTE-%d", "Vehicle VEH-%d logged a harsh braking event at stop %d."},
	{model.TypeSuccess, "Delivery completed on RTE-%d", "Driver DRV-%d finished %d minutes ahead of schedule."},
	{model.TypeSuccess, "Maintenance MNT-%d closed", "Work on VEH-%d is complete after %d hours."},
	{model.TypeInfo, "Shift started for DRV-%d", "Checked in on VEH-%d at depot %d."},
	{model.TypeInfo, "RTE-%d updated", "Dispatcher DRV-%d rerouted around a closure near stop %d."},
	{model.TypeDefault, "Fuel card used for VEH-%d", "Purchase %d recorded at station %d."},
}

// Generate builds a random fleet notification.
func Generate(r *rand.Rand, now time.Time) model.Notification {
	t := templates[r.IntN(len(templates))]
	return model.Notification{
		Type:      t.typ,
		Title:     fmt.Sprintf(t.title, 100+r.IntN(900)),
		Message:   fmt.Sprintf(t.message, 100+r.IntN(900), 10+r.IntN(90)),
		Timestamp: now.UTC(),
	}
}

// Simulate creates a random notification every interval until ctx ends.
func (s *Server) Simulate(ctx context.Context, interval time.Duration) {
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Create(Generate(r, s.now()))
		}
	}
}
