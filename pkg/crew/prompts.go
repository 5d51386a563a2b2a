package crew

import (
	"fmt"
	"strings"
)

func personaPrompt(a *Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", a.Role)
	if a.Backstory != "" {
		fmt.Fprintf(&b, " %s", a.Backstory)
	}
	if a.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s", a.Goal)
	}
	return b.String()
}

// taskPrompt renders the task for a worker, including what earlier
// agents produced.
func taskPrompt(description, expected string, transcript []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s\n", description)
	if expected != "" {
		fmt.Fprintf(&b, "\nThis is the expected criteria for your final answer: %s\n", expected)
	}
	if len(transcript) > 0 {
		b.WriteString("\nThis is the context you're working with:\n")
		writeTranscript(&b, transcript)
	}
	b.WriteString("\nBegin! Provide your complete final answer.")
	return b.String()
}

func writeTranscript(b *strings.Builder, steps []StepResult) {
	for _, s := range steps {
		fmt.Fprintf(b, "\n## %s\n%s\n", s.Agent, s.Output)
	}
}

func managerSystemPrompt(m *Agent, coworkers []*Agent) string {
	var b strings.Builder
	b.WriteString(personaPrompt(m))
	b.WriteString("\n\nYou manage a team and never do the work yourself. Your coworkers are:\n")
	for _, a := range coworkers {
		if a.Goal != "" {
			fmt.Fprintf(&b, "- %s: %s\n", a.Role, a.Goal)
		} else {
			fmt.Fprintf(&b, "- %s\n", a.Role)
		}
	}
	b.WriteString(`
Answer with exactly one JSON object and nothing else. Either delegate:
{"action":"delegate","coworker":"<role>","task":"<instructions>","context":"<what they need to know>"}
or, once the work is done, give the final answer:
{"action":"final_answer","output":"<the complete answer>"}`)
	return b.String()
}

func managerTaskPrompt(description, expected, previous string, transcript []StepResult, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", description)
	if expected != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", expected)
	}
	if previous != "" {
		fmt.Fprintf(&b, "\nResult of the previous task:\n%s\n", previous)
	}
	if len(transcript) > 0 {
		b.WriteString("\nWork delivered by your coworkers so far:\n")
		writeTranscript(&b, transcript)
	}
	if remaining > 0 {
		fmt.Fprintf(&b, "\nYou may delegate %d more time(s).", remaining)
	} else {
		b.WriteString("\nYou cannot delegate any more. Respond now with the final_answer action.")
	}
	return b.String()
}

func delegatedTaskPrompt(instructions, extra, expected string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s\n", instructions)
	if extra != "" {
		fmt.Fprintf(&b, "\nThis is the context you're working with:\n%s\n", extra)
	}
	if expected != "" {
		fmt.Fprintf(&b, "\nThis is the expected criteria for your final answer: %s\n", expected)
	}
	b.WriteString("\nBegin! Provide your complete final answer.")
	return b.String()
}

// slug turns a role into a node id fragment.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
