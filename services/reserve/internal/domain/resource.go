package domain

// ResourceKind tags the kind of reservable resource. The engine never looks
// inside a resource; kinds only select the matching adapter.
type ResourceKind string

const (
	ResourceKindGiftItem     ResourceKind = "gift_item"
	ResourceKindStoreProduct ResourceKind = "store_product"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindGiftItem, ResourceKindStoreProduct:
		return true
	}
	return false
}

// Resource identifies a lockable thing owned outside the engine.
type Resource struct {
	Kind ResourceKind
	ID   string
}
