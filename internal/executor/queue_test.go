package executor

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("queue", func() {
	It("times out when nothing is pushed", func() {
		q := newQueue(4)
		start := time.Now()
		_, ok := q.pop(20 * time.Millisecond)
		Expect(ok).To(BeFalse())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
	})

	It("polls without blocking on a zero timeout", func() {
		q := newQueue(4)
		_, ok := q.pop(0)
		Expect(ok).To(BeFalse())

		Expect(q.push(context.Background(), testReport("vm1"))).To(Succeed())
		it, ok := q.pop(0)
		Expect(ok).To(BeTrue())
		Expect(it.report).NotTo(BeNil())
	})

	It("unblocks a push when the context is canceled", func() {
		q := newQueue(1)
		Expect(q.push(context.Background(), testReport("vm1"))).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- q.push(ctx, testReport("vm2"))
		}()

		Consistently(errCh, 30*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(errCh, time.Second).Should(Receive(MatchError(context.Canceled)))
	})

	It("drains reports and counts them", func() {
		q := newQueue(4)
		Expect(q.push(context.Background(), testReport("vm1"))).To(Succeed())
		Expect(q.push(context.Background(), testReport("vm2"))).To(Succeed())
		Expect(q.drain()).To(Equal(2))
		Expect(q.drain()).To(BeZero())
	})

	It("forces a sentinel into a full channel", func() {
		q := newQueue(1)
		Expect(q.push(context.Background(), testReport("vm1"))).To(Succeed())
		Expect(q.tryPushControl(controlExit)).To(BeFalse())

		q.forceControl(controlExit)
		it, ok := q.tryPop()
		Expect(ok).To(BeTrue())
		Expect(it.control).To(Equal(controlExit))
	})
})
