package agent

import (
	"strings"
	"testing"
)

func TestFormatMinimalRoutine(t *testing.T) {
	out := RenderRoutineBody([]byte(`{"routine":{"objectiu":"strength","sessions":[]}}`))
	if !strings.Contains(out, "strength") {
		t.Fatalf("expected objective in output:\n%s", out)
	}
	if strings.Contains(out, "## ") {
		t.Fatalf("expected no session headings:\n%s", out)
	}
}

func TestFormatSessionAndExercises(t *testing.T) {
	out := RenderRoutineBody([]byte(`{"routine":{"sessions":[{"dia":"Monday","horari":"08:00-09:00","focus":"legs","exercicis":[{"nom":"Squat","series":3,"repeticions":10,"descans":"90s","notes":"go deep"},{"nom":"Lunge"}]}]}}`))
	if !strings.Contains(out, "Monday") {
		t.Fatalf("expected day heading:\n%s", out)
	}
	if !strings.Contains(out, "1. Squat") {
		t.Fatalf("expected numbered exercise:\n%s", out)
	}
	if !strings.Contains(out, "3 sets") || !strings.Contains(out, "10 reps") {
		t.Fatalf("expected sets and reps:\n%s", out)
	}
	if !strings.Contains(out, "rest 90s") {
		t.Fatalf("expected rest:\n%s", out)
	}
	if !strings.Contains(out, "go deep") {
		t.Fatalf("expected notes:\n%s", out)
	}
	if !strings.Contains(out, "2. Lunge") {
		t.Fatalf("expected second exercise without details:\n%s", out)
	}
}

func TestFormatAdviceAndProgression(t *testing.T) {
	out := RenderRoutineBody([]byte(`{"routine":{"consells_generals":["sleep well","hydrate"],"progressio":{"week_1":"light loads","week_2_and_3":"add weight"}}}`))
	if !strings.Contains(out, "- sleep well") || !strings.Contains(out, "- hydrate") {
		t.Fatalf("expected advice bullets:\n%s", out)
	}
	if !strings.Contains(out, "Week 1") {
		t.Fatalf("expected snake_case label converted:\n%s", out)
	}
	if !strings.Contains(out, "Week 2 And 3") {
		t.Fatalf("expected multi-word label converted:\n%s", out)
	}
}

func TestFormatArrayWrappedRoutine(t *testing.T) {
	out := RenderRoutineBody([]byte(`[{"routine":{"objectiu":"endurance"}}]`))
	if !strings.Contains(out, "endurance") {
		t.Fatalf("expected objective from first array element:\n%s", out)
	}
}

func TestFormatFallsBackToPrettyDump(t *testing.T) {
	out := RenderRoutineBody([]byte(`{"something_else":{"a":1}}`))
	if !strings.Contains(out, "something_else") {
		t.Fatalf("expected pretty dump of unknown shape:\n%s", out)
	}

	out = RenderRoutineBody([]byte(`not json at all`))
	if out != "not json at all" {
		t.Fatalf("expected raw body passthrough, got %q", out)
	}

	if got := RenderRoutineBody(nil); got != noResponseText {
		t.Fatalf("expected no-response text for empty body, got %q", got)
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"week_1":      "Week 1",
		"first_weeks": "First Weeks",
		"final":       "Final",
		"":            "",
	}
	for in, want := range cases {
		if got := titleCase(in); got != want {
			t.Fatalf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
