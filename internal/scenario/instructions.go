package scenario

import (
	"strings"
	"text/template"
)

var kindGuidance = map[Kind]string{
	KindColdCall:    "You were not expecting this call. Give the caller very little time unless they make it relevant to you quickly.",
	KindDiscovery:   "You agreed to this call. Answer questions honestly but only share details when asked good, specific questions.",
	KindDemo:        "You are evaluating the product. Ask how it handles your actual situation and push back on generic claims.",
	KindNegotiation: "You intend to buy, but only on better terms. Push on price and contract length before agreeing to anything.",
	KindRenewal:     "You are considering not renewing. Make the caller work to understand what went wrong before they pitch.",
}

const instructionsTemplate = `{{.Preamble}}

You are {{.Scenario.Persona}}.
Situation: {{.Scenario.Description}}
{{.Guidance}}
{{- with .Psychology}}

Your hidden state, which you must act out but never state directly:
- Mood: {{.Mood}}
- Skepticism: {{.Skepticism}}/10
- Patience: {{.Patience}}/10
- Objection you will raise only if the caller earns your trust: {{.HiddenObjection}}
{{- end}}

The caller is trying to: {{.Scenario.Objective}}

{{.Closing}}`

var instructions = template.Must(template.New("instructions").Parse(instructionsTemplate))

// Builder renders session instructions.
type Builder struct {
	Preamble string
	Closing  string
}

func NewBuilder(preamble, closing string) *Builder {
	return &Builder{Preamble: preamble, Closing: closing}
}

// Build renders the instructions for one session. The output depends only
// on its arguments.
func (b *Builder) Build(kind Kind, sc Scenario, psych *PsychologicalState) (string, error) {
	data := struct {
		Preamble   string
		Closing    string
		Guidance   string
		Scenario   Scenario
		Psychology *PsychologicalState
	}{
		Preamble:   b.Preamble,
		Closing:    b.Closing,
		Guidance:   kindGuidance[kind],
		Scenario:   sc,
		Psychology: psych,
	}

	var sb strings.Builder
	if err := instructions.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// BuildInstructions renders with no preamble or closing.
func BuildInstructions(kind Kind, sc Scenario, psych *PsychologicalState) (string, error) {
	return (&Builder{}).Build(kind, sc, psych)
}
