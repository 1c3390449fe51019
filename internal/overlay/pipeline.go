package overlay

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"netcontrol/internal/device"
)

// Kind names a class of operator configuration.
type Kind string

const (
	KindBasic       Kind = "basic"
	KindOptical     Kind = "optical"
	KindAnnotations Kind = "annotations"
)

// PortOperator rewrites a port description from configuration. It must
// return desc itself when it has nothing to contribute. Implementations are
// compared by identity, so they must be comparable (typically pointers).
type PortOperator interface {
	CombinePort(cp device.ConnectPoint, desc *device.PortDescription) *device.PortDescription
}

type registration struct {
	op    PortOperator
	kinds []Kind
}

// Pipeline is the ordered chain of port operators. Operators run in
// registration order; the built-in annotation operator always runs last.
// Registration is copy-on-write so Combine never blocks on writers.
type Pipeline struct {
	logger      *slog.Logger
	annotations func(device.ConnectPoint) *PortAnnotationConfig

	mu  sync.Mutex
	ops atomic.Pointer[[]registration]
}

// NewPipeline creates a pipeline whose final annotation step reads configs
// from annotations. A nil lookup disables the annotation step.
func NewPipeline(logger *slog.Logger, annotations func(device.ConnectPoint) *PortAnnotationConfig) *Pipeline {
	p := &Pipeline{logger: logger, annotations: annotations}
	p.ops.Store(&[]registration{})
	return p
}

// Register appends op to the chain. It returns false if op is already
// registered.
func (p *Pipeline) Register(op PortOperator, kinds ...Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := *p.ops.Load()
	for _, r := range cur {
		if r.op == op {
			return false
		}
	}
	next := append(slices.Clip(cur), registration{op: op, kinds: slices.Clone(kinds)})
	p.ops.Store(&next)
	return true
}

// Unregister removes op. It returns false if op was not registered.
func (p *Pipeline) Unregister(op PortOperator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := *p.ops.Load()
	i := slices.IndexFunc(cur, func(r registration) bool { return r.op == op })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	p.ops.Store(&next)
	return true
}

// Len returns the number of registered operators.
func (p *Pipeline) Len() int { return len(*p.ops.Load()) }

// Watches reports whether a change to configs of kind k can alter the
// chain's output.
func (p *Pipeline) Watches(k Kind) bool {
	if k == KindAnnotations && p.annotations != nil {
		return true
	}
	for _, r := range *p.ops.Load() {
		if slices.Contains(r.kinds, k) {
			return true
		}
	}
	return false
}

// Combine runs desc through every operator and then the annotation step.
func (p *Pipeline) Combine(cp device.ConnectPoint, desc *device.PortDescription) *device.PortDescription {
	return p.Recombine(cp, desc, nil)
}

// Recombine is Combine with annotation keys to drop in the final step, used
// when an annotation config was replaced.
func (p *Pipeline) Recombine(cp device.ConnectPoint, desc *device.PortDescription, remove []string) *device.PortDescription {
	if desc == nil {
		return nil
	}
	for _, r := range *p.ops.Load() {
		desc = p.apply(r.op, cp, desc)
	}
	if p.annotations != nil {
		desc = CombinePortAnnotations(p.annotations(cp), desc, remove...)
	} else if len(remove) > 0 {
		desc = CombinePortAnnotations(nil, desc, remove...)
	}
	return desc
}

func (p *Pipeline) apply(op PortOperator, cp device.ConnectPoint, desc *device.PortDescription) (out *device.PortDescription) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("port operator panic", "port", cp.String(), "panic", r)
			out = desc
		}
	}()
	out = op.CombinePort(cp, desc)
	if out == nil {
		return desc
	}
	return out
}

// OpticalOperator applies optical port configs.
type OpticalOperator struct {
	logger *slog.Logger
	lookup func(device.ConnectPoint) *OpticalPortConfig
}

// NewOpticalOperator creates an operator reading configs from lookup.
func NewOpticalOperator(logger *slog.Logger, lookup func(device.ConnectPoint) *OpticalPortConfig) *OpticalOperator {
	return &OpticalOperator{logger: logger, lookup: lookup}
}

func (o *OpticalOperator) CombinePort(cp device.ConnectPoint, desc *device.PortDescription) *device.PortDescription {
	return CombineOpticalPort(o.logger, cp, o.lookup(cp), desc)
}
