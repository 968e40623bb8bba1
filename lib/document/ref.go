package document

// Ref names the document an operation works on, either by its stored id or
// by passing the document itself.
type Ref interface {
	isRef()
}

// ByID refers to a document that must be loaded from the store.
type ByID string

// ByValue carries the document directly, it is used as-is.
type ByValue struct {
	Document Document
}

func (ByID) isRef()    {}
func (ByValue) isRef() {}
