package quota

import "testing"

func TestWarningScheduler(t *testing.T) {
	warnings := []Warning{
		{ThresholdSeconds: 600, Message: "ten"},
		{ThresholdSeconds: 300, Message: "five"},
	}
	var ws WarningScheduler

	s := newState("2024-03-04", 3600)
	s.RemainingSeconds = 250
	due := ws.Evaluate(&s, warnings)
	if len(due) != 2 || due[0].Message != "ten" || due[1].Message != "five" {
		t.Fatalf("Expected both warnings in descending order, got %+v", due)
	}
	if again := ws.Evaluate(&s, warnings); len(again) != 0 {
		t.Errorf("Expected no repeat, got %+v", again)
	}

	s.RemainingSeconds = 450
	ws.Rearm(&s, warnings)
	if s.FiredWarnings[300] || !s.FiredWarnings[600] {
		t.Errorf("Expected only 300 rearmed, got %v", s.FiredWarnings)
	}

	s.Status = StatusPaused
	s.RemainingSeconds = 100
	if due := ws.Evaluate(&s, warnings); len(due) != 0 {
		t.Errorf("Expected no warnings while paused, got %+v", due)
	}
}

func TestWarningSchedulerSilence(t *testing.T) {
	warnings := []Warning{{ThresholdSeconds: 600}, {ThresholdSeconds: 300}}
	var ws WarningScheduler

	s := newState("2024-03-04", 3600)
	s.RemainingSeconds = 0
	ws.Silence(&s, warnings)

	if !s.FiredWarnings[600] || !s.FiredWarnings[300] {
		t.Errorf("Expected all crossed thresholds marked, got %v", s.FiredWarnings)
	}
}
