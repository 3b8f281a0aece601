package memory

import "sales-forecast/storage"

// Sandbox bundles every in-process service around one object store
type Sandbox struct {
	Store      *storage.MemoryStore
	Pipelines  *Pipelines
	Registry   *Registry
	Transforms *Transforms
	Documents  *Documents
	ETL        *ETL
	Prices     StaticPrices
}

// NewSandbox creates a fresh sandbox
func NewSandbox(region string) *Sandbox {
	store := storage.NewMemoryStore()
	registry := NewRegistry(region)
	return &Sandbox{
		Store:      store,
		Pipelines:  NewPipelines(region, store, registry),
		Registry:   registry,
		Transforms: NewTransforms(store),
		Documents:  NewDocuments(),
		ETL:        NewETL(),
		Prices:     DefaultPrices(),
	}
}
