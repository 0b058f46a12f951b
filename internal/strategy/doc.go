// Package strategy implements the per-category cache strategies: network
// first for documents, cache first with detached refresh for CDN assets,
// stale-while-revalidate for images and scripts, and plain cache first for
// immutable and generic requests. Every handler resolves to a response or an
// explicit error; background refreshes run on the task runner, detached from
// the requester, with their failures logged and discarded. Only the document
// and CDN strategies consult a TTL, the rest treat a cached entry as usable
// regardless of age.
package strategy
