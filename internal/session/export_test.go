package session

// transportStateForTest exposes the worker-owned state machine to tests.
// The synchronous ack that precedes every call establishes the necessary
// happens-before edge.
func (s *Session) transportStateForTest() transportState { return s.transport }
