// Package embedder generates vector embeddings from a locally hosted model.
//
// The Generator is the only component that talks to the model runtime. It
// owns the embedding cache, the circuit breaker, and the keyed lock that
// serializes bulk operations.
//
// # Usage
//
//	gen, err := embedder.New(embedder.DefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := gen.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	vector, err := gen.Embed(ctx, "what did we decide about the deadline?")
//
// Every returned vector is L2-normalized, so cosine similarity between two
// vectors reduces to their dot product.
//
// # Failure handling
//
// EmbedWithFallback wraps Embed in a circuit breaker with retry and
// exponential backoff:
//
//	vector, err := gen.EmbedWithFallback(ctx, text, 3)
//	if errors.Is(err, types.ErrModelUnavailable) {
//	    // circuit is open or retries exhausted; degrade to lexical search
//	}
//
// After five consecutive failures the circuit opens and calls fail fast
// without reaching the model. Once the cooldown elapses a single probe is
// allowed through; success closes the circuit again.
//
// # Batching
//
// EmbedBatch partitions cached from uncached texts and sends the uncached
// ones to the model in fixed-size sub-batches. A batched call whose output
// shape does not match the request degrades to per-item inference instead of
// failing the batch.
//
// # Model boundary
//
// The model runtime returns loosely-shaped output (a flat vector or a batch
// tensor). ModelOutput represents that as a tagged union validated at the
// boundary, so the rest of the system only ever sees strongly-typed vectors.
package embedder
