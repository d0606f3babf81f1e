package stage

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Partitioned runs several independent stage instances side by side, routing
// each input to one partition by key. Every partition owns its own
// accumulator with no cross-partition state, so per-key ordering and
// reduction semantics are those of a single stage.
//
// Outputs from all partitions are fanned into one downstream channel with no
// cross-partition ordering guarantee.
type Partitioned[In, Out any] struct {
	stages    []*Stage[In, Out]
	partition func(In) int
	logger    *zap.Logger
}

// NewPartitioned creates n stage instances via factory and routes inputs with
// partition. The partition index is reduced modulo n, so any deterministic
// key hash works.
func NewPartitioned[In, Out any](n int, factory func(i int) *Stage[In, Out], partition func(In) int, opts ...Option) *Partitioned[In, Out] {
	if n < 1 {
		panic("stage: partition count must be at least 1")
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	stages := make([]*Stage[In, Out], n)
	for i := range stages {
		stages[i] = factory(i)
	}
	return &Partitioned[In, Out]{
		stages:    stages,
		partition: partition,
		logger:    o.logger,
	}
}

// Stages returns the partition instances, index-aligned with the factory.
func (p *Partitioned[In, Out]) Stages() []*Stage[In, Out] { return p.stages }

// Run drives all partitions until upstream closes and every partition drains,
// or ctx is canceled, or any stage fails. It owns out and closes it on
// return.
func (p *Partitioned[In, Out]) Run(ctx context.Context, in <-chan In, out chan<- Out) error {
	defer close(out)

	n := len(p.stages)
	g, ctx := errgroup.WithContext(ctx)

	ins := make([]chan In, n)
	outs := make([]chan Out, n)
	for i := range p.stages {
		i := i
		ins[i] = make(chan In)
		outs[i] = make(chan Out)

		g.Go(func() error {
			return p.stages[i].Run(ctx, ins[i], outs[i])
		})
		g.Go(func() error {
			for v := range outs[i] {
				select {
				case out <- v:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, c := range ins {
				close(c)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-in:
				if !ok {
					return nil
				}
				idx := p.partition(msg) % n
				if idx < 0 {
					idx += n
				}
				select {
				case ins[idx] <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	err := g.Wait()
	if err != nil {
		p.logger.Warn("partitioned stage terminated with error", zap.Error(err))
	}
	return err
}
