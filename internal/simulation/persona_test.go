package simulation

import (
	"os"
	"path/filepath"
	"testing"

	"colloquy/internal/domain"
)

func TestPersonaRespondClampsToScript(t *testing.T) {
	persona := Persona{
		Name:    "clamped",
		Default: []string{"first", "second", "last"},
		Responses: map[string][]string{
			"theme": {"themed"},
		},
	}

	tests := []struct {
		name       string
		topic      domain.TopicID
		probeCount int
		want       string
	}{
		{"first answer", "characters", 0, "first"},
		{"second answer", "characters", 1, "second"},
		{"clamps past the end", "characters", 9, "last"},
		{"negative clamps to first", "characters", -1, "first"},
		{"topic script wins over default", "theme", 0, "themed"},
		{"topic script clamps too", "theme", 4, "themed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := persona.Respond(tc.topic, tc.probeCount); got != tc.want {
				t.Fatalf("Respond(%s, %d)=%q want=%q", tc.topic, tc.probeCount, got, tc.want)
			}
		})
	}
}

func TestPersonaRespondWithoutAnyScript(t *testing.T) {
	persona := Persona{Name: "empty"}
	if got := persona.Respond("theme", 0); got != "I have nothing further to add." {
		t.Fatalf("Respond=%q", got)
	}
}

func TestLoadPersonas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	doc := `personas:
  - name: curt
    default:
      - "Fine."
      - "Really, it was fine."
  - name: fan
    responses:
      theme:
        - "The theme carried the whole book for me."
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write personas file: %v", err)
	}

	personas, err := LoadPersonas(path)
	if err != nil {
		t.Fatalf("LoadPersonas: %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("personas=%d want 2", len(personas))
	}
	if personas[0].Name != "curt" || len(personas[0].Default) != 2 {
		t.Fatalf("first persona=%+v", personas[0])
	}
	if got := personas[1].Responses["theme"]; len(got) != 1 || got[0] != "The theme carried the whole book for me." {
		t.Fatalf("second persona responses=%v", personas[1].Responses)
	}
}

func TestLoadPersonasRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty document", "personas: []\n"},
		{"unnamed persona", "personas:\n  - default:\n      - \"Fine.\"\n"},
		{"persona without responses", "personas:\n  - name: mute\n"},
		{"malformed yaml", "personas: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "personas.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write personas file: %v", err)
			}
			if _, err := LoadPersonas(path); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadPersonasMissingFile(t *testing.T) {
	if _, err := LoadPersonas(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBuiltinPersonasAreWellFormed(t *testing.T) {
	personas := BuiltinPersonas()
	if len(personas) != 3 {
		t.Fatalf("builtin personas=%d want 3", len(personas))
	}
	seen := make(map[string]bool)
	for _, persona := range personas {
		if persona.Name == "" {
			t.Fatalf("builtin persona without a name")
		}
		if seen[persona.Name] {
			t.Fatalf("duplicate builtin persona %q", persona.Name)
		}
		seen[persona.Name] = true
		if len(persona.Default) == 0 {
			t.Fatalf("builtin persona %q has no script", persona.Name)
		}
	}
	if !seen[thoroughPersonaName] {
		t.Fatalf("builtin set lacks the %q persona: %v", thoroughPersonaName, seen)
	}
}
