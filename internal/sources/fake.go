package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/openvirt/inventory-agent/internal/models"
)

func init() {
	Register("fake", NewFakeSource)
}

// FakeSource reads inventory from a JSON file. Useful for development and
// for exercising the pipeline without a hypervisor.
type FakeSource struct {
	file         string
	isHypervisor bool
}

func NewFakeSource(cfg *models.Config) (Source, error) {
	file := cfg.Setting("file")
	if file == "" {
		return nil, fmt.Errorf("fake source %q: missing 'file' setting", cfg.Name)
	}
	return &FakeSource{
		file:         file,
		isHypervisor: cfg.Setting("is_hypervisor") != "false",
	}, nil
}

type fakeInventory struct {
	Hypervisors []struct {
		UUID   string `json:"uuid"`
		Name   string `json:"name"`
		Guests []struct {
			GuestID string `json:"guestId"`
			State   int    `json:"state"`
		} `json:"guests"`
	} `json:"hypervisors"`
}

func (s *FakeSource) Collect(ctx context.Context, cfg *models.Config) (models.Report, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil, fmt.Errorf("reading fake inventory %q: %w", s.file, err)
	}

	var inv fakeInventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("fake inventory %q is not properly formed: %w", s.file, err)
	}

	if !s.isHypervisor {
		// Flat guest list: all guests regardless of host.
		var guests []models.Guest
		for _, h := range inv.Hypervisors {
			for _, g := range h.Guests {
				guests = append(guests, models.Guest{ID: g.GuestID, State: models.GuestState(g.State)})
			}
		}
		return models.NewDomainListReport(cfg, guests), nil
	}

	hypervisors := make([]models.Hypervisor, 0, len(inv.Hypervisors))
	for _, h := range inv.Hypervisors {
		guests := make([]models.Guest, 0, len(h.Guests))
		for _, g := range h.Guests {
			guests = append(guests, models.Guest{ID: g.GuestID, State: models.GuestState(g.State)})
		}
		hypervisors = append(hypervisors, models.Hypervisor{
			HypervisorID: h.UUID,
			Name:         h.Name,
			GuestIDs:     guests,
		})
	}
	return models.NewHostGuestReport(cfg, hypervisors), nil
}
