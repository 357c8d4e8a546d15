package executor

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openvirt/inventory-agent/internal/models"
)

var _ = Describe("Worker", func() {
	var q *queue

	BeforeEach(func() {
		q = newQueue(8)
	})

	It("pushes one report and exits in oneshot mode", func() {
		w := newWorker(sourceConfig("a"), newScriptedCollector(guestList("vm1")), q, time.Hour, true)
		w.Start()

		it, ok := q.pop(time.Second)
		Expect(ok).To(BeTrue())
		Expect(it.control).To(Equal(controlNone))
		Expect(it.report.Config().Name).To(Equal("a"))

		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Join()
		}()
		Eventually(done, time.Second).Should(BeClosed())
		Expect(w.IsAlive()).To(BeFalse())
	})

	It("pushes an error marker when collection fails", func() {
		w := newWorker(sourceConfig("a"), &failingCollector{}, q, time.Hour, true)
		w.Start()

		it, ok := q.pop(time.Second)
		Expect(ok).To(BeTrue())
		Expect(it.report).To(BeAssignableToTypeOf(&models.ErrorReport{}))
	})

	It("keeps collecting every interval until stopped", func() {
		w := newWorker(sourceConfig("a"), &repeatingCollector{mk: guestList("vm1")}, q, 5*time.Millisecond, false)
		w.Start()

		for i := 0; i < 3; i++ {
			_, ok := q.pop(time.Second)
			Expect(ok).To(BeTrue())
		}

		w.Stop()
		q.drain()
		Eventually(w.IsAlive, time.Second).Should(BeFalse())
	})

	It("can be terminated while blocked on a full channel", func() {
		small := newQueue(1)
		w := newWorker(sourceConfig("a"), &repeatingCollector{mk: guestList("vm1")}, small, time.Millisecond, false)
		w.Start()

		// Let the worker fill the channel and block on the next push.
		Eventually(func() int { return len(small.ch) }, time.Second).Should(Equal(1))
		time.Sleep(10 * time.Millisecond)

		w.Terminate()
		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Join()
		}()
		Eventually(done, time.Second).Should(BeClosed())
	})
})
