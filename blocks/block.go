package blocks

// Block is the tagged-union interface every concrete block kind
// implements. Unknown tags parse into Opaque rather than failing the
// whole tree walk.
type Block interface {
	// Kind returns the block's tag, e.g. "HD", "DG", "CG".
	Kind() string
	// Hdr returns the block's common header.
	Hdr() *Header
}

// Opaque represents a block whose tag this module does not recognize. Its
// raw payload is kept verbatim so the block graph remains navigable (its
// own links are not interpreted) without losing file bytes.
type Opaque struct {
	Header
	Payload []byte
}

func (b *Opaque) Kind() string { return b.Header.Tag }
func (b *Opaque) Hdr() *Header { return &b.Header }
