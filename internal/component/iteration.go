package component

// IterationResults is returned by Handler.Invoke when a single input
// fans out to K downstream Messages (the "iterate" pattern) instead of
// the usual single result. handleMessage clones msg once per entry,
// attaching a shared message.IterationState so the original Message's
// ack/nack fires only once every clone reaches a terminal disposition.
type IterationResults []any
