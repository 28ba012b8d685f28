package conversation

import (
	"testing"

	"github.com/luizcarelo/nps-saas/internal/survey"
)

func TestAnalyzeTagsAndSentiment(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		tags      []string
		sentiment survey.Sentiment
	}{
		{"positive service", "Ótimo atendimento, super rápido", []string{"ATENDIMENTO"}, survey.SentimentPositive},
		{"negative delivery", "Entrega atrasada, péssimo serviço", []string{"LOGÍSTICA"}, survey.SentimentNegative},
		{"price complaint neutral", "O valor está alto demais", []string{"FINANCEIRO"}, survey.SentimentNeutral},
		{"multiple topics", "O app é lento e o boleto veio errado", []string{"FINANCEIRO", "TECNOLOGIA"}, survey.SentimentNeutral},
		{"mixed polarity stays neutral", "Atendimento excelente mas o prazo foi péssimo", []string{"ATENDIMENTO", "LOGÍSTICA"}, survey.SentimentNeutral},
		{"no keywords", "tudo certo por aqui", nil, survey.SentimentNeutral},
		{"empty", "", nil, survey.SentimentNeutral},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tags, sentiment := Analyze(tc.text)
			if sentiment != tc.sentiment {
				t.Fatalf("sentiment: expected %s, got %s", tc.sentiment, sentiment)
			}
			if len(tags) != len(tc.tags) {
				t.Fatalf("tags: expected %v, got %v", tc.tags, tags)
			}
			for _, want := range tc.tags {
				found := false
				for _, got := range tags {
					if got == want {
						found = true
					}
				}
				if !found {
					t.Fatalf("tags: expected %v to include %s, got %v", tags, want, tags)
				}
			}
		})
	}
}

func TestKeywordMatchingIsCaseInsensitive(t *testing.T) {
	if !isAffirmative("SIM") || !isAffirmative("sim, claro") {
		t.Fatalf("expected affirmative match")
	}
	if !isAffirmative("s") {
		t.Fatalf("expected single-letter affirmative")
	}
	if isAffirmative("sonho") {
		t.Fatalf("single letters must not match inside words")
	}
	if !isNegative("Não, obrigado") || !isNegative("nao") {
		t.Fatalf("expected negative match")
	}
	if !isExit("SAIR") || !isExit("quero cancelar") {
		t.Fatalf("expected exit match")
	}
}
