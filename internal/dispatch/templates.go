package dispatch

import (
	"regexp"
	"strings"
)

// Fallback outbound templates. Asterisks are the chat channel's bold
// markup; placeholders are replaced case-insensitively.
var templates = map[string]string{
	"PADRAO":     "Olá *{{nome}}*! 👋\n\nComo você avalia sua experiência com a *{{empresa}}*?",
	"FORMAL":     "Prezado(a) *{{nome}}*,\n\nQual nota você daria para a *{{empresa}}*?",
	"AMIGAVEL":   "Oi *{{nome}}*! Tudo bem? 😃\n\nDe 0 a 10, quanto você recomenda a *{{empresa}}*?",
	"ONBOARDING": "Olá *{{nome}}*! 🚀\n\nQue bom ter você conosco! De 0 a 10, como você avalia nosso atendimento inicial na *{{empresa}}*?",
	"SUPORTE":    "Olá *{{nome}}*! 🎧\n\nRecentemente você foi atendido pela *{{empresa}}*. De 0 a 10, como foi nossa qualidade de suporte?",
}

const defaultTemplate = "PADRAO"

const defaultCompanyName = "nossa empresa"

const voteInstruction = "\n\nDigite sua nota de *0 a 10*:"

var (
	namePlaceholder    = regexp.MustCompile(`(?i)\{\{nome\}\}`)
	companyPlaceholder = regexp.MustCompile(`(?i)\{\{empresa\}\}`)
)

// renderPrompt builds the initial survey message for one contact. A
// custom message overrides the named template; the rating instruction is
// always appended.
func renderPrompt(templateName, customMessage, contactName, companyName string) string {
	body := customMessage
	if body == "" {
		var ok bool
		body, ok = templates[templateName]
		if !ok {
			body = templates[defaultTemplate]
		}
	}
	if companyName == "" {
		companyName = defaultCompanyName
	}
	body = namePlaceholder.ReplaceAllString(body, firstName(contactName))
	body = companyPlaceholder.ReplaceAllString(body, companyName)
	return body + voteInstruction
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return full
	}
	return fields[0]
}
