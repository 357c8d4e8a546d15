package executor

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openvirt/inventory-agent/internal/models"
	"github.com/openvirt/inventory-agent/pkg/subman"
)

var _ = Describe("Executor", func() {
	var (
		dest     *mockDestination
		recorder *mockRecorder
		ctx      context.Context
	)

	BeforeEach(func() {
		dest = &mockDestination{}
		recorder = &mockRecorder{}
		ctx = context.Background()
	})

	runAsync := func(e *Executor) (<-chan map[string]models.Report, <-chan error) {
		resCh := make(chan map[string]models.Report, 1)
		errCh := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			res, err := e.Run(ctx)
			resCh <- res
			errCh <- err
		}()
		return resCh, errCh
	}

	Context("in oneshot mode", func() {
		newOneshot := func(specs ...SourceSpec) *Executor {
			opts := testOptions()
			opts.Oneshot = true
			e := New(dest, recorder, opts)
			e.SetSources(specs)
			return e
		}

		It("sends one report per source and returns", func() {
			e := newOneshot(
				SourceSpec{Config: sourceConfig("esx1"), Collector: newScriptedCollector(association(hyp("hostA", "vm1")))},
				SourceSpec{Config: sourceConfig("kvm1"), Collector: newScriptedCollector(guestList("vm2", "vm3"))},
			)

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dest.sentSources()).To(ConsistOf("esx1", "kvm1"))
			Expect(recorder.successes).To(ConsistOf("esx1", "kvm1"))
		})

		It("delivers the host-guest association as collected", func() {
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("esx1"),
				Collector: newScriptedCollector(association(hyp("hostA", "vm1"))),
			})

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dest.sends).To(HaveLen(1))

			sent, ok := dest.sends[0].report.(*models.HostGuestReport)
			Expect(ok).To(BeTrue())
			Expect(sent.Hypervisors()).To(HaveLen(1))
			Expect(sent.Hypervisors()[0].HypervisorID).To(Equal("hostA"))
			Expect(sent.Hypervisors()[0].GuestIDs).To(HaveLen(1))
			Expect(sent.Hypervisors()[0].GuestIDs[0].ID).To(Equal("vm1"))
			Expect(sent.State()).To(Equal(models.ReportStateFinished))
		})

		It("does not wait for a source that fails to collect", func() {
			e := newOneshot(
				SourceSpec{Config: sourceConfig("a"), Collector: newScriptedCollector(guestList("vm1"))},
				SourceSpec{Config: sourceConfig("c"), Collector: &failingCollector{}},
			)

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, err := e.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
			}()

			Eventually(done, time.Second).Should(BeClosed())
			Expect(dest.sentSources()).To(ConsistOf("a"))
		})

		It("backs off with escalating delays while rate limited", func() {
			retryAfter := 40 * time.Millisecond
			dest.script = []outcome{
				throttled(retryAfter),
				throttled(retryAfter),
				throttled(retryAfter),
				delivered(),
			}
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("a"),
				Collector: newScriptedCollector(guestList("vm1")),
			})

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			times := dest.sendTimes()
			Expect(times).To(HaveLen(4))
			var prevGap time.Duration
			for i := 1; i < len(times); i++ {
				gap := times[i].Sub(times[i-1])
				Expect(gap).To(BeNumerically(">=", time.Duration(i)*retryAfter))
				Expect(gap).To(BeNumerically(">=", prevGap))
				prevGap = gap
			}

			// Backoff counter resets once a report goes through.
			Expect(e.consecutive429).To(BeZero())
			Expect(e.minSendDelay).To(Equal(e.opts.ThrottleFloor))
		})

		It("retries a throttled report after the suggested delay", func() {
			dest.script = []outcome{throttled(30 * time.Millisecond), delivered()}
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("a"),
				Collector: newScriptedCollector(guestList("vm1")),
			})

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			times := dest.sendTimes()
			Expect(times).To(HaveLen(2))
			Expect(times[1].Sub(times[0])).To(BeNumerically(">=", 30*time.Millisecond))
			Expect(recorder.successes).To(ConsistOf("a"))
		})

		It("polls an asynchronously accepted report until it finishes", func() {
			dest.script = []outcome{deliveredAsync("job-42")}
			dest.checkScript = []models.ReportState{
				models.ReportStateProcessing,
				models.ReportStateProcessing,
				models.ReportStateFinished,
			}
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("a"),
				Collector: newScriptedCollector(guestList("vm1")),
			})

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dest.sendCount()).To(Equal(1))
			Expect(dest.checkCalls).To(BeNumerically(">=", 3))
			Expect(recorder.successes).To(ConsistOf("a"))
		})

		It("propagates fatal destination errors", func() {
			dest.script = []outcome{fatal()}
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("a"),
				Collector: newScriptedCollector(guestList("vm1")),
			})

			_, err := e.Run(ctx)
			Expect(err).To(HaveOccurred())
			var fatalErr *subman.FatalError
			Expect(err).To(BeAssignableToTypeOf(fatalErr))
		})

		It("records a failure and keeps going on a recoverable send error", func() {
			dest.script = []outcome{failed()}
			e := newOneshot(SourceSpec{
				Config:    sourceConfig("a"),
				Collector: newScriptedCollector(guestList("vm1")),
			})

			_, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dest.sendCount()).To(Equal(1))
			Expect(recorder.failureCount()).To(Equal(1))
		})
	})

	Context("in continuous mode", func() {
		It("sends unchanged inventory only once", func() {
			e := New(dest, recorder, testOptions())
			e.SetSources([]SourceSpec{{
				Config:    sourceConfig("a"),
				Collector: &repeatingCollector{mk: guestList("vm1")},
			}})

			_, errCh := runAsync(e)

			Eventually(dest.sendCount, time.Second).Should(Equal(1))
			Consistently(dest.sendCount, 150*time.Millisecond).Should(Equal(1))

			e.Terminate()
			Eventually(errCh, time.Second).Should(Receive(BeNil()))
		})

		It("sends changed inventory no sooner than the pacing interval", func() {
			opts := testOptions()
			opts.Interval = 30 * time.Millisecond
			e := New(dest, recorder, opts)
			e.SetSources([]SourceSpec{{
				Config: sourceConfig("a"),
				Collector: newScriptedCollector(
					guestList("vm1"),
					guestList("vm1", "vm2"),
				),
			}})

			_, errCh := runAsync(e)

			Eventually(dest.sendCount, time.Second).Should(Equal(2))
			times := dest.sendTimes()
			Expect(times[1].Sub(times[0])).To(BeNumerically(">=", 20*time.Millisecond))

			e.Terminate()
			Eventually(errCh, time.Second).Should(Receive(BeNil()))
		})

		It("forgets cached fingerprints on reload", func() {
			e := New(dest, recorder, testOptions())
			e.SetSources([]SourceSpec{{
				Config:    sourceConfig("a"),
				Collector: &repeatingCollector{mk: guestList("vm1")},
			}})

			_, errCh := runAsync(e)
			Eventually(dest.sendCount, time.Second).Should(Equal(1))

			e.Reload()
			Eventually(errCh, time.Second).Should(Receive(MatchError(ErrReload)))

			// Same inventory again; without the reload it would be deduplicated.
			e.SetSources([]SourceSpec{{
				Config:    sourceConfig("a"),
				Collector: &repeatingCollector{mk: guestList("vm1")},
			}})
			_, errCh = runAsync(e)
			Eventually(dest.sendCount, time.Second).Should(Equal(2))

			e.Terminate()
			Eventually(errCh, time.Second).Should(Receive(BeNil()))
		})
	})

	Context("in print mode", func() {
		It("returns the collected reports without transmitting", func() {
			opts := testOptions()
			opts.Print = true
			e := New(dest, recorder, opts)
			e.SetSources([]SourceSpec{
				{Config: sourceConfig("esx1"), Collector: newScriptedCollector(association(hyp("hostA", "vm1")))},
				{Config: sourceConfig("kvm1"), Collector: newScriptedCollector(guestList("vm2"))},
			})

			results, err := e.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results).To(HaveKey("esx1"))
			Expect(results).To(HaveKey("kvm1"))
			Expect(dest.sendCount()).To(BeZero())
		})
	})
})
