package app

// Operation tracks the CLI command being run. Only commands that record a
// sync run in the ledger are marked with its run ID, and only marked
// operations snapshot the ledger to the vault on close.
type Operation struct {
	Name       string
	Parameters string
	RunID      string
	Status     string // "success", "partial" or "error"
}

// NewOperation creates an unmarked operation.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     "success",
	}
}

// Recorded returns true if this operation wrote a run to the ledger.
func (op *Operation) Recorded() bool {
	return op.RunID != ""
}
