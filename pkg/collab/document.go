package collab

import (
	"github.com/vango-dev/docsync/pkg/crdt"
)

// UpdateResult describes the effect of one update.
type UpdateResult struct {
	// Changed reports whether the update carried operations the document
	// had not seen.
	Changed bool

	// Delta encodes only the new operations.
	Delta []byte

	// Clients lists the CRDT clients that authored the new operations.
	Clients []uint64
}

// Document is the server replica of one document.
// It is not safe for concurrent use; the owning Session serializes access.
type Document struct {
	id       string
	doc      *crdt.Doc
	hydrated bool
	touched  bool
}

// NewDocument creates an empty document. The server replica only merges
// remote updates and never edits locally.
func NewDocument(id string) *Document {
	return &Document{id: id, doc: crdt.New(0)}
}

// ID returns the document id.
func (d *Document) ID() string {
	return d.id
}

// Hydrate loads a persisted snapshot. It may be called at most once, and
// only before any update was applied.
func (d *Document) Hydrate(snapshot []byte) error {
	if d.hydrated || d.touched {
		return ErrAlreadyHydrated
	}
	if _, err := d.doc.ApplyUpdate(snapshot); err != nil {
		return err
	}
	d.hydrated = true
	return nil
}

// ApplyUpdate merges a remote update. The only possible error is a
// *protocol.DecodeError, in which case the document is unchanged.
func (d *Document) ApplyUpdate(update []byte) (UpdateResult, error) {
	res, err := d.doc.ApplyUpdate(update)
	if err != nil {
		return UpdateResult{}, err
	}
	d.touched = true
	if !res.Changed() {
		return UpdateResult{}, nil
	}
	return UpdateResult{
		Changed: true,
		Delta:   res.Update(),
		Clients: res.Clients(),
	}, nil
}

// DiffSince returns an update holding everything missing from a peer with
// the given state vector.
func (d *Document) DiffSince(stateVector []byte) ([]byte, error) {
	return d.doc.DiffUpdate(stateVector)
}

// StateVector summarizes what the document has seen.
func (d *Document) StateVector() []byte {
	return d.doc.EncodeStateVector()
}

// SnapshotForPersistence encodes the full state, loadable with Hydrate.
func (d *Document) SnapshotForPersistence() []byte {
	return d.doc.EncodeStateAsUpdate()
}

// PlainDocument materializes the text.
func (d *Document) PlainDocument() string {
	return d.doc.String()
}

// Len returns the number of visible characters.
func (d *Document) Len() int {
	return d.doc.Len()
}

// Hydrated reports whether a snapshot was loaded.
func (d *Document) Hydrated() bool {
	return d.hydrated
}
