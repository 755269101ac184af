package buffer

import (
	"go.uber.org/zap"

	"latchdb/internal/diskmanager"
	"latchdb/internal/metrics"
	"latchdb/internal/page"
)

// Pool is a thin router in front of several Instances, forwarding each
// request by page id modulo the instance count, per spec.md §9's "surface
// it as a thin front object that forwards by id mod num_instances" note.
// NewPage round-robins across instances so allocation load is spread evenly.
type Pool struct {
	instances []*Instance
	nextNew   int
}

// NewPool builds a Pool of numInstances Instances, each with poolSize
// frames, all backed by the same disk manager (they share one file, but
// each owns a disjoint page id congruence class).
func NewPool(poolSize, numInstances int, disk *diskmanager.DiskManager, log *zap.SugaredLogger, reg *metrics.Registry) *Pool {
	if numInstances <= 0 {
		numInstances = 1
	}
	p := &Pool{instances: make([]*Instance, numInstances)}
	for i := 0; i < numInstances; i++ {
		p.instances[i] = NewInstance(poolSize, numInstances, i, disk, WithLogger(log), WithMetrics(reg))
	}
	return p
}

func (p *Pool) instanceFor(id page.ID) *Instance {
	idx := int(id) % len(p.instances)
	if idx < 0 {
		idx += len(p.instances)
	}
	return p.instances[idx]
}

// NewPage allocates a page from the next instance in round-robin order.
func (p *Pool) NewPage() (*page.Page, error) {
	inst := p.instances[p.nextNew]
	p.nextNew = (p.nextNew + 1) % len(p.instances)
	return inst.NewPage()
}

// FetchPage routes to the instance owning id.
func (p *Pool) FetchPage(id page.ID) (*page.Page, error) { return p.instanceFor(id).FetchPage(id) }

// UnpinPage routes to the instance owning id.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) bool { return p.instanceFor(id).UnpinPage(id, isDirty) }

// FlushPage routes to the instance owning id.
func (p *Pool) FlushPage(id page.ID) bool { return p.instanceFor(id).FlushPage(id) }

// FlushAllPages flushes every instance.
func (p *Pool) FlushAllPages() {
	for _, inst := range p.instances {
		inst.FlushAllPages()
	}
}

// DeletePage routes to the instance owning id.
func (p *Pool) DeletePage(id page.ID) bool { return p.instanceFor(id).DeletePage(id) }

// NumInstances returns the partition count.
func (p *Pool) NumInstances() int { return len(p.instances) }
