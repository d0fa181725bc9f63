package crdt

// Insert inserts text before the rune at visible position index and returns
// the update describing the edit. index == Len() appends.
func (d *Doc) Insert(index int, text string) ([]byte, error) {
	if d.client == 0 {
		return nil, ErrReadOnly
	}
	if index < 0 || index > d.length {
		return nil, ErrIndexOutOfRange
	}

	parent := head
	if index > 0 {
		parent = d.visibleAt(index - 1).op.ID
	}

	ops := make([]Op, 0, len(text))
	for _, r := range text {
		op := Op{Kind: OpInsert, ID: d.nextID(), Lamport: d.lamport + 1, Ref: parent, Char: r}
		d.integrate(op)
		ops = append(ops, op)
		parent = op.ID
	}
	return encodeOps(ops), nil
}

// Delete removes n runes starting at visible position index and returns the
// update describing the edit.
func (d *Doc) Delete(index, n int) ([]byte, error) {
	if d.client == 0 {
		return nil, ErrReadOnly
	}
	if index < 0 || n < 0 || index+n > d.length {
		return nil, ErrIndexOutOfRange
	}

	targets := make([]ID, 0, n)
	pos := 0
	d.walk(func(it *item) bool {
		if pos >= index+n {
			return false
		}
		if pos >= index {
			targets = append(targets, it.op.ID)
		}
		pos++
		return true
	})

	ops := make([]Op, 0, n)
	for _, target := range targets {
		op := Op{Kind: OpDelete, ID: d.nextID(), Lamport: d.lamport + 1, Ref: target}
		d.integrate(op)
		ops = append(ops, op)
	}
	return encodeOps(ops), nil
}

func (d *Doc) nextID() ID {
	return ID{Client: d.client, Clock: d.sv[d.client]}
}

// visibleAt returns the visible item at position index. The caller checks bounds.
func (d *Doc) visibleAt(index int) *item {
	var found *item
	pos := 0
	d.walk(func(it *item) bool {
		if pos == index {
			found = it
			return false
		}
		pos++
		return true
	})
	return found
}
