package market

// Journal is the undo log that gives each public marketplace operation
// all-or-nothing semantics across the registry and both ledgers. Every
// journaled mutation records its exact inverse; Rollback unwinds them in
// reverse order, restoring the pre-operation state.
//
// A Journal belongs to a single operation and is not safe for concurrent
// use. A nil *Journal is accepted everywhere and records nothing, for
// mutations that are deliberately unconditional (genesis seeding, tests).
type Journal struct {
	undo []func()
}

func NewJournal() *Journal {
	return &Journal{}
}

// Record registers the inverse of a mutation that has just been applied.
func (j *Journal) Record(undo func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, undo)
}

// Rollback unwinds all recorded mutations, newest first.
func (j *Journal) Rollback() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Commit discards the undo log, making the operation's mutations final.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	j.undo = nil
}
