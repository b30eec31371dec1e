package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")
	AttrLLMJSON     = attribute.Key("llm.json_output")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrCorpusID       = attribute.Key("retrieval.corpus")
	AttrTopK           = attribute.Key("retrieval.top_k")
	AttrRetrievedNodes = attribute.Key("retrieval.nodes")
	AttrMergedNodes    = attribute.Key("retrieval.merged_levels")

	AttrQueryLength = attribute.Key("query.length")
	AttrStatus      = attribute.Key("status")
)
