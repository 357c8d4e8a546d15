package models_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openvirt/inventory-agent/internal/models"
)

func TestModels(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Models Suite")
}

var _ = Describe("Report", func() {
	cfg := &models.Config{Name: "esx1", Type: "vsphere"}

	Describe("state transitions", func() {
		It("only moves forward", func() {
			r := models.NewHostGuestReport(cfg, nil)
			Expect(r.State()).To(Equal(models.ReportStateCreated))

			r.SetState(models.ReportStateProcessing)
			Expect(r.State()).To(Equal(models.ReportStateProcessing))

			r.SetState(models.ReportStateCreated)
			Expect(r.State()).To(Equal(models.ReportStateProcessing))

			r.SetState(models.ReportStateFinished)
			Expect(r.State()).To(Equal(models.ReportStateFinished))

			r.SetState(models.ReportStateProcessing)
			Expect(r.State()).To(Equal(models.ReportStateFinished))
		})

		It("knows which states are terminal", func() {
			Expect(models.ReportStateCreated.Terminal()).To(BeFalse())
			Expect(models.ReportStateProcessing.Terminal()).To(BeFalse())
			Expect(models.ReportStateFinished.Terminal()).To(BeTrue())
			Expect(models.ReportStateFailed.Terminal()).To(BeTrue())
		})
	})

	Describe("fingerprints", func() {
		It("is stable under hypervisor and guest enumeration order", func() {
			a := models.NewHostGuestReport(cfg, []models.Hypervisor{
				{HypervisorID: "hostA", GuestIDs: []models.Guest{
					{ID: "vm1", State: models.GuestStateRunning},
					{ID: "vm2", State: models.GuestStateShutoff},
				}},
				{HypervisorID: "hostB", GuestIDs: nil},
			})
			b := models.NewHostGuestReport(cfg, []models.Hypervisor{
				{HypervisorID: "hostB", GuestIDs: nil},
				{HypervisorID: "hostA", GuestIDs: []models.Guest{
					{ID: "vm2", State: models.GuestStateShutoff},
					{ID: "vm1", State: models.GuestStateRunning},
				}},
			})

			Expect(a.Fingerprint()).NotTo(BeEmpty())
			Expect(a.Fingerprint()).To(Equal(b.Fingerprint()))
		})

		It("changes when the association changes", func() {
			a := models.NewHostGuestReport(cfg, []models.Hypervisor{
				{HypervisorID: "hostA", GuestIDs: []models.Guest{{ID: "vm1", State: models.GuestStateRunning}}},
			})
			b := models.NewHostGuestReport(cfg, []models.Hypervisor{
				{HypervisorID: "hostA", GuestIDs: []models.Guest{{ID: "vm1", State: models.GuestStateShutoff}}},
			})

			Expect(a.Fingerprint()).NotTo(Equal(b.Fingerprint()))
		})

		It("is stable under guest order for flat lists", func() {
			a := models.NewDomainListReport(cfg, []models.Guest{
				{ID: "vm1", State: models.GuestStateRunning},
				{ID: "vm2", State: models.GuestStateRunning},
			})
			b := models.NewDomainListReport(cfg, []models.Guest{
				{ID: "vm2", State: models.GuestStateRunning},
				{ID: "vm1", State: models.GuestStateRunning},
			})

			Expect(a.Fingerprint()).To(Equal(b.Fingerprint()))
		})

		It("is empty for error markers", func() {
			Expect(models.NewErrorReport(cfg).Fingerprint()).To(BeEmpty())
		})
	})
})
