package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/models"
)

func init() {
	Register("vsphere", NewVSphereSource)
}

// VSphereSource walks a vCenter or standalone ESXi inventory and builds the
// host-to-guest association. A fresh session is opened per collection and
// closed before returning, so a long-lived worker never holds a stale
// session across the polling interval.
type VSphereSource struct {
	url      *url.URL
	insecure bool
}

func NewVSphereSource(cfg *models.Config) (Source, error) {
	server := cfg.Setting("server")
	if server == "" {
		return nil, fmt.Errorf("vsphere source %q: missing 'server' setting", cfg.Name)
	}
	u, err := soap.ParseURL(server)
	if err != nil {
		return nil, fmt.Errorf("vsphere source %q: invalid server: %w", cfg.Name, err)
	}
	u.User = url.UserPassword(cfg.Setting("username"), cfg.Setting("password"))
	return &VSphereSource{
		url:      u,
		insecure: cfg.Setting("insecure") == "true",
	}, nil
}

func (s *VSphereSource) Collect(ctx context.Context, cfg *models.Config) (models.Report, error) {
	client, err := govmomi.NewClient(ctx, s.url, s.insecure)
	if err != nil {
		return nil, fmt.Errorf("connecting to vsphere: %w", err)
	}
	defer func() {
		_ = client.Logout(ctx)
		client.CloseIdleConnections()
	}()

	m := view.NewManager(client.Client)
	v, err := m.CreateContainerView(ctx, client.ServiceContent.RootFolder,
		[]string{"HostSystem", "VirtualMachine"}, true)
	if err != nil {
		return nil, fmt.Errorf("creating container view: %w", err)
	}
	defer func() { _ = v.Destroy(ctx) }()

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, []string{"summary", "vm"}, &hosts); err != nil {
		return nil, fmt.Errorf("retrieving hosts: %w", err)
	}

	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, []string{"summary"}, &vms); err != nil {
		return nil, fmt.Errorf("retrieving virtual machines: %w", err)
	}

	vmByRef := make(map[string]mo.VirtualMachine, len(vms))
	for _, vm := range vms {
		vmByRef[vm.Self.Value] = vm
	}

	hypervisors := make([]models.Hypervisor, 0, len(hosts))
	guestTotal := 0
	for _, host := range hosts {
		h := models.Hypervisor{
			HypervisorID: host.Summary.Hardware.Uuid,
			Name:         host.Summary.Config.Name,
			Facts:        hostFacts(host),
		}
		for _, ref := range host.Vm {
			vm, ok := vmByRef[ref.Value]
			if !ok {
				continue
			}
			id := vm.Summary.Config.Uuid
			if id == "" {
				continue
			}
			h.GuestIDs = append(h.GuestIDs, models.Guest{
				ID:    id,
				State: guestState(vm.Summary.Runtime.PowerState),
			})
		}
		guestTotal += len(h.GuestIDs)
		hypervisors = append(hypervisors, h)
	}

	zap.S().Debugw("vsphere inventory collected",
		"source", cfg.Name, "hypervisors", len(hypervisors), "guests", guestTotal)

	return models.NewHostGuestReport(cfg, hypervisors), nil
}

func hostFacts(host mo.HostSystem) map[string]string {
	facts := map[string]string{
		"cpu.cpu_socket(s)": strconv.Itoa(int(host.Summary.Hardware.NumCpuPkgs)),
	}
	if product := host.Summary.Config.Product; product != nil {
		facts["hypervisor.type"] = product.Name
		facts["hypervisor.version"] = product.Version
	}
	return facts
}

func guestState(state types.VirtualMachinePowerState) models.GuestState {
	switch state {
	case types.VirtualMachinePowerStatePoweredOn:
		return models.GuestStateRunning
	case types.VirtualMachinePowerStatePoweredOff:
		return models.GuestStateShutoff
	case types.VirtualMachinePowerStateSuspended:
		return models.GuestStatePaused
	default:
		return models.GuestStateUnknown
	}
}
