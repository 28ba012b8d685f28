package conversation

import (
	"strings"

	"github.com/luizcarelo/nps-saas/internal/survey"
)

// Deterministic keyword classifier for free-text feedback. Comments are
// written by Brazilian customers, so the keyword sets are Portuguese.

var topicKeywords = []struct {
	tag   string
	words []string
}{
	{"FINANCEIRO", []string{"preço", "caro", "valor", "custo", "barato", "pagamento", "boleto", "fatura"}},
	{"ATENDIMENTO", []string{"atendimento", "suporte", "ajuda", "demora", "atenção", "educação", "grosso"}},
	{"PRODUTO", []string{"produto", "qualidade", "quebrado", "funciona", "bug", "erro", "falha"}},
	{"LOGÍSTICA", []string{"entrega", "prazo", "chegou", "atraso", "envio", "frete", "logística"}},
	{"TECNOLOGIA", []string{"site", "app", "sistema", "lento", "travando", "login", "senha"}},
}

var positiveWords = []string{"excelente", "ótimo", "maravilh", "perfeito", "recomendo", "satisfeito", "parabéns", "top"}

var negativeWords = []string{"péssimo", "horrível", "terrível", "nunca", "pior", "decepcion", "insatisf", "lixo"}

// Analyze tags a comment with topic categories and a three-way sentiment
// label. When positive and negative keywords both match, the label stays
// neutral.
func Analyze(text string) ([]string, survey.Sentiment) {
	if text == "" {
		return nil, survey.SentimentNeutral
	}
	lower := strings.ToLower(text)

	var tags []string
	for _, topic := range topicKeywords {
		if containsAny(lower, topic.words) {
			tags = append(tags, topic.tag)
		}
	}

	pos := containsAny(lower, positiveWords)
	neg := containsAny(lower, negativeWords)
	sentiment := survey.SentimentNeutral
	switch {
	case pos && !neg:
		sentiment = survey.SentimentPositive
	case neg && !pos:
		sentiment = survey.SentimentNegative
	}
	return tags, sentiment
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
