package quota

// WarningScheduler decides which configured warnings are due. It holds no
// state of its own: fired flags live in the day's SessionState.
type WarningScheduler struct{}

// Evaluate marks and returns the warnings that remaining time has reached,
// in descending threshold order. Nothing fires unless s is Active.
func (WarningScheduler) Evaluate(s *SessionState, warnings []Warning) []Warning {
	if s.Status != StatusActive {
		return nil
	}
	var due []Warning
	for _, w := range warnings {
		if s.RemainingSeconds <= w.ThresholdSeconds && !s.FiredWarnings[w.ThresholdSeconds] {
			s.FiredWarnings[w.ThresholdSeconds] = true
			due = append(due, w)
		}
	}
	return due
}

// Silence marks every threshold remaining time has reached as fired without
// returning them.
func (WarningScheduler) Silence(s *SessionState, warnings []Warning) {
	for _, w := range warnings {
		if s.RemainingSeconds <= w.ThresholdSeconds {
			s.FiredWarnings[w.ThresholdSeconds] = true
		}
	}
}

// Rearm clears the flag of every threshold remaining time is now above.
func (WarningScheduler) Rearm(s *SessionState, warnings []Warning) {
	for _, w := range warnings {
		if s.RemainingSeconds > w.ThresholdSeconds {
			delete(s.FiredWarnings, w.ThresholdSeconds)
		}
	}
}
