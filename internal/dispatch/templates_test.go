package dispatch

import (
	"strings"
	"testing"
)

func TestRenderPromptSubstitutesPlaceholders(t *testing.T) {
	got := renderPrompt("PADRAO", "", "Maria Souza", "Acme")
	if !strings.Contains(got, "Maria") {
		t.Fatalf("expected first name in prompt, got %q", got)
	}
	if strings.Contains(got, "Souza") {
		t.Fatalf("expected only first name, got %q", got)
	}
	if !strings.Contains(got, "Acme") {
		t.Fatalf("expected company name in prompt, got %q", got)
	}
	if !strings.HasSuffix(got, voteInstruction) {
		t.Fatalf("expected vote instruction appended, got %q", got)
	}
}

func TestRenderPromptCustomMessageOverridesTemplate(t *testing.T) {
	got := renderPrompt("FORMAL", "Oi {{NOME}}, avalie a {{Empresa}}!", "João", "Acme")
	if !strings.HasPrefix(got, "Oi João, avalie a Acme!") {
		t.Fatalf("expected case-insensitive substitution, got %q", got)
	}
}

func TestRenderPromptFallsBackOnUnknownTemplate(t *testing.T) {
	got := renderPrompt("NAO_EXISTE", "", "Ana", "")
	if !strings.Contains(got, "Ana") || !strings.Contains(got, defaultCompanyName) {
		t.Fatalf("expected default template with fallback company, got %q", got)
	}
}
