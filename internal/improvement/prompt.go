package improvement

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/skillpulse/skillpulse/internal/registry"
)

// generatorSystemPrompt instructs the model how to rewrite a skill prompt.
// The response contract is the three XML tags parsed by parseProposal.
const generatorSystemPrompt = `You are an expert prompt engineer specializing in improving AI skill prompts based on user feedback data.

Your task is to analyze a skill's current prompt, its performance scores across 6 quality dimensions, and user feedback to generate an improved version that addresses the identified weaknesses.

QUALITY DIMENSIONS:
1. Relevance (1-5): Output matches what the user asked for
2. Accuracy (1-5): Information is correct and reliable
3. Completeness (1-5): All aspects of the request are addressed
4. Clarity (1-5): Output is clear and well-organized
5. Actionability (1-5): Output provides actionable guidance
6. Professionalism (1-5): Tone and format are appropriate

IMPROVEMENT GUIDELINES:
1. Preserve the core intent and structure of the original prompt
2. Make targeted improvements based on the specific weak dimensions
3. Add explicit instructions to address common complaints from feedback
4. Keep improvements focused and minimal - don't over-engineer
5. Maintain the same output format expectations
6. Preserve all {{placeholders}} exactly as they appear in the original

OUTPUT FORMAT:
Return your response in this exact XML structure:

<system_instruction>
[The complete improved system instruction - include ALL original content plus your improvements]
</system_instruction>

<user_prompt_template>
[The improved user prompt template with {{placeholders}} preserved exactly]
</user_prompt_template>

<rationale>
[2-3 sentences explaining what was changed and why, referencing specific scores/feedback]
</rationale>`

// buildGenerationPrompt renders the user turn for one improvement request:
// current prompt content, the frozen score snapshot, and sampled feedback.
func buildGenerationPrompt(e *registry.Entry, r *registry.Request) string {
	snap := r.ScoreSnapshot

	var b strings.Builder
	fmt.Fprintf(&b, "SKILL: %s\n", e.Name)
	fmt.Fprintf(&b, "ID: %s\n", e.ID)
	fmt.Fprintf(&b, "TYPE: %s\n", e.Type)
	fmt.Fprintf(&b, "CURRENT VERSION: %d\n", r.FromVersion)
	fmt.Fprintf(&b, "TOTAL GRADES: %d\n\n", snap.TotalGrades)

	b.WriteString("CURRENT SYSTEM INSTRUCTION:\n")
	b.WriteString(e.SystemInstruction)
	b.WriteString("\n\nCURRENT USER PROMPT TEMPLATE:\n")
	b.WriteString(e.UserPromptTemplate)

	b.WriteString("\n\nPERFORMANCE SCORES (out of 5.0):\n")
	fmt.Fprintf(&b, "Overall: %s\n", fmtScore(snap.Overall))
	for _, dim := range registry.Dimensions {
		fmt.Fprintf(&b, "%s: %s\n", capitalize(string(dim)), fmtScore(snap.Dimensions[dim]))
	}

	weak := weakDimensionLabels(snap)
	fmt.Fprintf(&b, "\nTRIGGER REASON: %s\n", r.TriggerReason)
	fmt.Fprintf(&b, "WEAK DIMENSIONS: %s\n", orNone(strings.Join(weak, ", ")))

	b.WriteString("\nUSER FEEDBACK SAMPLES (anonymized):\n")
	if len(r.SampleFeedback) == 0 {
		b.WriteString("No written feedback provided - rely on dimension scores for guidance\n")
	} else {
		for i, f := range r.SampleFeedback {
			fmt.Fprintf(&b, "%d. %q\n", i+1, f)
		}
	}

	b.WriteString("\nYOUR TASK:\n")
	b.WriteString("Improve this skill's prompts to address the weak scores and user feedback.\n")
	focus := strings.Join(weak, ", ")
	if focus == "" {
		focus = r.TriggerReason
	}
	fmt.Fprintf(&b, "Focus especially on improving: %s\n\n", focus)
	b.WriteString("Remember:\n")
	b.WriteString("- Preserve all {{placeholder}} syntax exactly\n")
	b.WriteString("- Keep the core structure and intent\n")
	b.WriteString("- Add targeted improvements, don't rewrite everything\n")
	b.WriteString("- The improved prompt should help future outputs score higher on the weak dimensions\n")
	return b.String()
}

// weakDimensionLabels lists snapshot dimensions below the request's threshold,
// weakest first, formatted as "name (score)".
func weakDimensionLabels(snap registry.Snapshot) []string {
	type scored struct {
		name  string
		score float64
	}
	var weak []scored
	for _, dim := range registry.Dimensions {
		avg := snap.Dimensions[dim]
		if avg != nil && *avg < snap.Threshold {
			weak = append(weak, scored{string(dim), *avg})
		}
	}
	for i := 1; i < len(weak); i++ {
		for j := i; j > 0 && weak[j].score < weak[j-1].score; j-- {
			weak[j], weak[j-1] = weak[j-1], weak[j]
		}
	}
	labels := make([]string, len(weak))
	for i, w := range weak {
		labels[i] = fmt.Sprintf("%s (%.1f)", w.name, w.score)
	}
	return labels
}

func fmtScore(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orNone(s string) string {
	if s == "" {
		return "None identified"
	}
	return s
}

var (
	systemTagRe    = regexp.MustCompile(`(?s)<system_instruction>(.*?)</system_instruction>`)
	templateTagRe  = regexp.MustCompile(`(?s)<user_prompt_template>(.*?)</user_prompt_template>`)
	rationaleTagRe = regexp.MustCompile(`(?s)<rationale>(.*?)</rationale>`)
)

// parseProposal extracts the tagged sections from a model response. Both
// prompt sections are mandatory; a missing rationale gets a stub.
func parseProposal(response string) (registry.Proposal, error) {
	p := registry.Proposal{
		SystemInstruction:  tagContent(systemTagRe, response),
		UserPromptTemplate: tagContent(templateTagRe, response),
		Rationale:          tagContent(rationaleTagRe, response),
	}
	if p.SystemInstruction == "" || p.UserPromptTemplate == "" {
		return registry.Proposal{}, fmt.Errorf("improvement: response missing system_instruction or user_prompt_template tags")
	}
	if p.Rationale == "" {
		p.Rationale = "No rationale provided"
	}
	return p, nil
}

func tagContent(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
