package session

// Reconciliation is the outcome of comparing the controller's buffer with
// the transport's own accumulator.
type Reconciliation struct {
	Text     string
	Mismatch bool
}

// Reconcile returns the final text of a completed stream. The two inputs are
// identical unless a delta was lost between transport and controller; the
// transport's text wins in that case.
func Reconcile(buffer, finalText string) Reconciliation {
	if buffer == finalText {
		return Reconciliation{Text: buffer}
	}
	return Reconciliation{Text: finalText, Mismatch: true}
}
