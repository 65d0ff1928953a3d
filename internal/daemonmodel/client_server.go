package daemonmodel

// AddClientClusterTaskInvokerFactory registers a cluster invoker factory
// supplied by the remote client under id (spec.md §6: DaemonClientServer's
// only RPC method). The caller is expected to choose id deterministically
// from the connection's identity (e.g. its rpctransport.Connection pointer
// address stringified, or a generated identifier.New("invk") id) so that
// Remove can be called with the same id from a connection-close hook.
func (s *DaemonClientServer) AddClientClusterTaskInvokerFactory(id string, factory ClusterInvokerFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = factory
}

// Remove deregisters the factory previously registered under id. This is
// the deterministic replacement (spec.md §9) for the source's weak-reference
// GC-driven cleanup: it must be called from the connection's close hook, not
// left to a garbage collector.
func (s *DaemonClientServer) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Factories returns the currently-registered factories (spec.md §6:
// getClientClusterTaskInvokerFactories()). The returned slice is a snapshot;
// mutating it does not affect the registry.
func (s *DaemonClientServer) Factories() []ClusterInvokerFactory {
	s.mu.Lock()
	defer s.mu.Unlock()
	factories := make([]ClusterInvokerFactory, 0, len(s.entries))
	for _, f := range s.entries {
		factories = append(factories, f)
	}
	return factories
}
