package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"coachline/internal/domain"
)

// RenderRoutineBody turns the routine agent's raw body into display
// text. Accepted shapes: an object with a "routine" field, or a
// non-empty array whose first element has one. Anything else is
// pretty-printed rather than treated as a failure.
func RenderRoutineBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return noResponseText
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return trimmed
	}
	candidate := parsed
	if arr, ok := parsed.([]any); ok {
		if len(arr) == 0 {
			return prettyJSON(parsed)
		}
		candidate = arr[0]
	}
	return FormatRoutine(candidate)
}

// FormatRoutine renders a routine document as markdown. Deterministic
// and pure; a document without a routine field comes back as a
// pretty-printed dump instead of an error.
func FormatRoutine(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return prettyJSON(doc)
	}
	raw, ok := obj["routine"]
	if !ok {
		return prettyJSON(doc)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return prettyJSON(doc)
	}
	var routine domain.Routine
	if err := json.Unmarshal(data, &routine); err != nil {
		return prettyJSON(raw)
	}

	var b strings.Builder
	b.WriteString("# Your training routine\n")
	if routine.Objective != "" {
		fmt.Fprintf(&b, "\n**Objective:** %s\n", routine.Objective)
	}
	if routine.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", routine.Description)
	}
	if routine.Duration != "" {
		fmt.Fprintf(&b, "\n**Duration:** %s\n", routine.Duration)
	}
	for _, session := range routine.Sessions {
		b.WriteString("\n" + sessionHeading(session) + "\n")
		for i, ex := range session.Exercises {
			fmt.Fprintf(&b, "%d. %s\n", i+1, exerciseLine(ex))
		}
	}
	if len(routine.Advice) > 0 {
		b.WriteString("\n## General advice\n")
		for _, advice := range routine.Advice {
			fmt.Fprintf(&b, "- %s\n", advice)
		}
	}
	if len(routine.Progression) > 0 {
		b.WriteString("\n## Progression\n")
		for _, week := range sortedKeys(routine.Progression) {
			fmt.Fprintf(&b, "- **%s:** %s\n", titleCase(week), routine.Progression[week])
		}
	}
	return b.String()
}

func sessionHeading(s domain.Session) string {
	heading := "## " + orDefault(s.Day, "Session")
	if s.Schedule != "" {
		heading += " (" + s.Schedule + ")"
	}
	if s.Focus != "" {
		heading += " - " + s.Focus
	}
	return heading
}

func exerciseLine(ex domain.Exercise) string {
	line := orDefault(ex.Name, "Exercise")
	var details []string
	if ex.Sets != "" {
		details = append(details, fmt.Sprintf("%s sets", ex.Sets))
	}
	if ex.Reps != "" {
		details = append(details, fmt.Sprintf("%s reps", ex.Reps))
	}
	if ex.Rest != "" {
		details = append(details, fmt.Sprintf("rest %s", ex.Rest))
	}
	if len(details) > 0 {
		line += " - " + strings.Join(details, ", ")
	}
	if ex.Notes != "" {
		line += ". " + ex.Notes
	}
	return line
}

// titleCase renders a snake_case week label as Title Case.
func titleCase(label string) string {
	words := strings.Split(label, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]domain.Flex) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
