package mergerag

import (
	"context"
	"fmt"
)

// Postprocessor transforms a retrieved set before it reaches the answerer.
// Implementations must not reorder beyond what they document and must be safe
// for concurrent use.
type Postprocessor interface {
	Postprocess(ctx context.Context, query string, nodes RetrievedSet) (RetrievedSet, error)
}

// Pipeline runs postprocessors in order, feeding each stage the previous
// stage's output. A nil or empty Pipeline passes input through.
type Pipeline []Postprocessor

var _ Postprocessor = Pipeline(nil)

// NewPipeline returns the stages as a Pipeline, skipping nil entries.
func NewPipeline(stages ...Postprocessor) Pipeline {
	p := make(Pipeline, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			p = append(p, s)
		}
	}
	return p
}

// Postprocess implements Postprocessor.
func (p Pipeline) Postprocess(ctx context.Context, query string, nodes RetrievedSet) (RetrievedSet, error) {
	for i, stage := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := stage.Postprocess(ctx, query, nodes)
		if err != nil {
			return nil, fmt.Errorf("postprocess stage %d: %w", i, err)
		}
		nodes = out
	}
	return nodes, nil
}

// --- MinScore ---

// MinScore drops nodes scoring below a threshold. Order is preserved.
type MinScore struct {
	Threshold float32
}

var _ Postprocessor = MinScore{}

// Postprocess implements Postprocessor.
func (m MinScore) Postprocess(_ context.Context, _ string, nodes RetrievedSet) (RetrievedSet, error) {
	out := make(RetrievedSet, 0, len(nodes))
	for _, sn := range nodes {
		if sn.Score >= m.Threshold {
			out = append(out, sn)
		}
	}
	return out, nil
}
