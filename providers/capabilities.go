package providers

// CapableProvider is an optional interface for providers that must declare
// restrictions on how they may be dispatched, rather than having the
// orchestrator special-case a provider name. TGI is the motivating example:
// it mangles tool-call names when streaming, so it advertises
// SupportsToolStreaming() == false and the orchestrator rejects tool-use in
// streaming mode for it before dispatch, the same way it would for any other
// provider that reported the same restriction.
type CapableProvider interface {
	Provider
	SupportsToolStreaming() bool
}

// SupportsToolStreaming reports whether p can be dispatched in streaming
// mode while tools are attached to the request. Providers that don't
// implement CapableProvider are assumed capable (the common case).
func SupportsToolStreaming(p Provider) bool {
	if cp, ok := p.(CapableProvider); ok {
		return cp.SupportsToolStreaming()
	}
	return true
}
