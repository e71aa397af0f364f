// Package trace turns a workflow engine's execution history into a flat,
// queryable set of immutable spans and writes them to the analytical store.
//
// One execution history produces one trace: a forest of spans rooted at the
// workflow span, with child activities, generations, functions, and signals
// parented by the node that scheduled them. Business identifiers are read
// from the root input payload and propagated to every descendant span.
// Token and cost fields are populated for generation spans only, priced by
// the package's cost calculator.
package trace
