package executor

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("pendingQueue", func() {
	var p *pendingQueue

	BeforeEach(func() {
		p = newPendingQueue()
	})

	It("pops entries in insertion order", func() {
		p.Set("a", testReport("vm1"))
		p.Set("b", testReport("vm2"))

		name, _, ok := p.PopFront()
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("a"))

		name, _, ok = p.PopFront()
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("b"))

		_, _, ok = p.PopFront()
		Expect(ok).To(BeFalse())
	})

	It("replaces a report without losing the name's position", func() {
		p.Set("a", testReport("vm1"))
		p.Set("b", testReport("vm2"))
		updated := testReport("vm1", "vm9")
		p.Set("a", updated)

		Expect(p.Len()).To(Equal(2))

		name, r, ok := p.PopFront()
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("a"))
		Expect(r).To(BeIdenticalTo(updated))

		name, _, _ = p.PopFront()
		Expect(name).To(Equal("b"))
	})

	It("restores a popped entry to the head", func() {
		p.Set("a", testReport("vm1"))
		p.Set("b", testReport("vm2"))

		name, r, _ := p.PopFront()
		Expect(name).To(Equal("a"))
		p.PushFront(name, r)

		name, _, _ = p.PopFront()
		Expect(name).To(Equal("a"))
		name, _, _ = p.PopFront()
		Expect(name).To(Equal("b"))
	})

	It("clears all state", func() {
		p.Set("a", testReport("vm1"))
		p.Clear()
		Expect(p.Len()).To(BeZero())
		Expect(p.Has("a")).To(BeFalse())
		_, _, ok := p.PopFront()
		Expect(ok).To(BeFalse())
	})
})
