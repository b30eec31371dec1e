package observer

import (
	"context"
	"time"

	"github.com/nevindra/mergerag"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRetriever wraps a mergerag.Retriever with OTEL instrumentation.
type ObservedRetriever struct {
	inner    mergerag.Retriever
	inst     *Instruments
	corpusID string
}

var _ mergerag.Retriever = (*ObservedRetriever)(nil)

// WrapRetriever returns an instrumented retriever for one corpus.
func WrapRetriever(inner mergerag.Retriever, corpusID string, inst *Instruments) *ObservedRetriever {
	return &ObservedRetriever{inner: inner, inst: inst, corpusID: corpusID}
}

func (o *ObservedRetriever) Retrieve(ctx context.Context, query string, topK int) (mergerag.RetrievedSet, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		AttrCorpusID.String(o.corpusID),
		AttrTopK.Int(topK),
		AttrQueryLength.Int(len(query)),
	))
	defer span.End()
	start := time.Now()

	set, err := o.inner.Retrieve(ctx, query, topK)

	durationMs := float64(time.Since(start).Milliseconds())
	status := statusOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	merged := 0
	for _, sn := range set {
		if !sn.Node.IsLeaf() {
			merged++
		}
	}
	span.SetAttributes(AttrRetrievedNodes.Int(len(set)), AttrMergedNodes.Int(merged))

	attrs := metric.WithAttributes(AttrCorpusID.String(o.corpusID))
	o.inst.RetrievalRequests.Add(ctx, 1, metric.WithAttributes(
		AttrCorpusID.String(o.corpusID),
		AttrStatus.String(status),
	))
	o.inst.RetrievalDuration.Record(ctx, durationMs, attrs)
	if err == nil {
		o.inst.RetrievedNodes.Record(ctx, int64(len(set)), attrs)
	}

	o.inst.emit(ctx, severityOf(err), "retrieval completed",
		otellog.String("retrieval.corpus", o.corpusID),
		otellog.Int("retrieval.top_k", topK),
		otellog.Int("retrieval.nodes", len(set)),
		otellog.Int("retrieval.merged", merged),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
	)
	return set, err
}

// ObservedEngine wraps the query engine of one corpus, so each routed
// sub-query shows up as its own span under the router request.
type ObservedEngine struct {
	inner    mergerag.Engine
	inst     *Instruments
	corpusID string
}

var _ mergerag.Engine = (*ObservedEngine)(nil)

// WrapEngine returns an instrumented per-corpus engine.
func WrapEngine(inner mergerag.Engine, corpusID string, inst *Instruments) *ObservedEngine {
	return &ObservedEngine{inner: inner, inst: inst, corpusID: corpusID}
}

func (o *ObservedEngine) Query(ctx context.Context, query string) (mergerag.Answer, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "corpus.query", trace.WithAttributes(
		AttrCorpusID.String(o.corpusID),
		AttrQueryLength.Int(len(query)),
	))
	defer span.End()
	start := time.Now()

	ans, err := o.inner.Query(ctx, query)

	durationMs := float64(time.Since(start).Milliseconds())
	status := statusOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrRetrievedNodes.Int(len(ans.Nodes)))

	o.inst.QueryRequests.Add(ctx, 1, metric.WithAttributes(
		AttrCorpusID.String(o.corpusID),
		AttrStatus.String(status),
	))
	o.inst.QueryDuration.Record(ctx, durationMs, metric.WithAttributes(AttrCorpusID.String(o.corpusID)))
	return ans, err
}
