// Package mergerag is a document-retrieval engine that answers natural-language
// queries against one or more corpora of structured text.
//
// Each corpus is chunked into a parent/child tree of nodes, its leaf nodes are
// embedded into a vector index, and retrieval consolidates fragmented leaf hits
// back into their ancestors (auto-merging) before the result is trimmed to a
// token budget and handed to an answer model. A Router picks the corpora a query
// should consult, dispatches to them in parallel and synthesizes one answer.
//
// # Quick Start
//
//	llm := mergerag.WithRetry(gemini.New(apiKey, "gemini-2.5-flash"))
//	emb := gemini.NewEmbedding(apiKey, "gemini-embedding-001", 768)
//
//	ix := ingest.NewIndexer(sqlite.New("."), emb, ingest.NewDirectorySource())
//	corpora, failures, err := ix.OpenAll(ctx, specs)
//
//	table := mergerag.NewRouterTable()
//	for _, c := range corpora {
//		engine := mergerag.NewQueryEngine(c.NewRetriever(emb), mergerag.NewLLMAnswerer(llm),
//			mergerag.WithPostprocessors(mergerag.NewTokenBudget(3000, mergerag.ApproxTokenizer{})))
//		table.Add(c, engine)
//	}
//	router := mergerag.NewRouter(table, mergerag.NewLLMSelector(llm), mergerag.NewLLMSynthesizer(llm))
//	resp, err := router.Route(ctx, "Which library should I use to reach my database?")
//
// # Core Interfaces
//
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Provider]: LLM backend used for selection, answering and synthesis
//   - [Tokenizer]: token counting for chunk sizes and context budgets
//   - [Retriever]: query to [RetrievedSet]
//   - [Postprocessor]: ordered transformations of a [RetrievedSet]
//   - [IndexStore]: persistence of a corpus [Snapshot]
//   - [DocumentSource]: plain text of a corpus directory
//   - [Selector], [Answerer], [Synthesizer]: the router's model calls
//
// # Included Implementations
//
// Chunking and document loading: ingest. Persistence: store/sqlite, store/postgres.
// Providers: provider/gemini. Observability: observer.
package mergerag
