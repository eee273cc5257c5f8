package domain

import "context"

// ResourceAdapter translates lease outcomes into resource-kind-specific
// state changes: a gift item is marked gifted on commit, a store product is
// put back on the shelf on release. Adapters are external collaborators;
// the engine never calls them itself, it only requires that both operations
// exist for every kind so the orchestrating caller can invoke them.
type ResourceAdapter interface {
	MarkAllocated(ctx context.Context, resourceID string) error
	MarkAvailable(ctx context.Context, resourceID string) error
}

// AdapterRegistry resolves the adapter for a resource kind.
type AdapterRegistry map[ResourceKind]ResourceAdapter

func (r AdapterRegistry) For(kind ResourceKind) (ResourceAdapter, bool) {
	a, ok := r[kind]
	return a, ok
}
