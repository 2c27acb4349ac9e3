package simulation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"colloquy/internal/domain"
)

// Persona is a scripted response source. Scripts are indexed by probe
// count and clamp to their last entry, so a topic can be probed any
// number of times without exhausting the script.
type Persona struct {
	Name      string              `yaml:"name"`
	Responses map[string][]string `yaml:"responses,omitempty"`
	Default   []string            `yaml:"default"`
}

func (p Persona) Respond(topic domain.TopicID, probeCount int) string {
	script := p.Responses[string(topic)]
	if len(script) == 0 {
		script = p.Default
	}
	if len(script) == 0 {
		return "I have nothing further to add."
	}
	if probeCount < 0 {
		probeCount = 0
	}
	if probeCount >= len(script) {
		probeCount = len(script) - 1
	}
	return script[probeCount]
}

func LoadPersonas(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file: %w", err)
	}
	var doc struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse personas file: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("personas file %s defines no personas", path)
	}
	for i, persona := range doc.Personas {
		if persona.Name == "" {
			return nil, fmt.Errorf("persona %d in %s has no name", i, path)
		}
		if len(persona.Default) == 0 && len(persona.Responses) == 0 {
			return nil, fmt.Errorf("persona %q has no scripted responses", persona.Name)
		}
	}
	return doc.Personas, nil
}

// BuiltinPersonas returns the three stock personas used by batch runs
// when no personas file is given.
func BuiltinPersonas() []Persona {
	return []Persona{
		{
			Name: "brief",
			Default: []string{
				"It was fine.",
				"Pretty good overall.",
				"Nothing else comes to mind.",
			},
		},
		{
			Name: "thorough",
			Default: []string{
				"The setting does a great deal of quiet work in the early chapters, because the town itself behaves almost like a character, pressing on every conversation and shading how the narrator reads other people, which is why the later departures from it feel so consequential and earned.",
				"What stayed with me most was the pacing, since the author lets small domestic scenes run long enough to feel lived in, then cuts away right before they resolve, and that rhythm taught me to read the silences between characters as carefully as the dialogue itself.",
				"I kept returning to the relationship between the two brothers, because every argument between them doubles as an argument about the family business, and the book trusts the reader to notice that the money talk is really grief talk, which gave the ending a weight I did not expect.",
			},
		},
		{
			Name: "frustrated",
			Default: []string{
				"It was okay at times.",
				"I already said what I thought about it.",
				"Whatever, can we move on please.",
			},
		},
	}
}
