package conversation

import (
	"fmt"
	"strings"
)

// Outbound dialogue prompts. Asterisks are the chat channel's bold markup.

const (
	msgVoteReprompt  = "Por favor, digite apenas um número de *0 a 10*."
	msgFeedbackAsk   = "Nota %d recebida! ✅\n\nGostaria de deixar uma opinião, crítica ou sugestão?\n\nResponda *SIM* ou *NÃO*."
	msgFeedbackOpen  = "Por favor, escreva sua opinião abaixo:"
	msgClosingNo     = "Entendido! Agradecemos sua participação. Tenha um ótimo dia! 🤝"
	msgClosingThanks = "Recebemos sua opinião! Obrigado pela parceria trazendo melhorias ao processo. 🚀"
	msgClarifyYesNo  = "Desculpe, não entendi. Responda *SIM* para comentar ou *NÃO* para encerrar."
)

func feedbackAsk(score int) string {
	return fmt.Sprintf(msgFeedbackAsk, score)
}

var yesWords = []string{"SIM", "S", "QUERO", "CLARO", "YES", "COM CERTEZA", "QUERIA", "PODE SER"}

var noWords = []string{"NÃO", "NAO", "N", "NO", "OBRIGADO"}

var exitWords = []string{"SAIR", "CANCELAR"}

// matchKeyword treats single-letter entries as exact matches and longer
// entries as substring matches, so a lone "s" is affirmative but not
// every word containing one.
func matchKeyword(input string, words []string) bool {
	for _, w := range words {
		if len(w) == 1 {
			if input == w {
				return true
			}
			continue
		}
		if strings.Contains(input, w) {
			return true
		}
	}
	return false
}

func isAffirmative(input string) bool { return matchKeyword(strings.ToUpper(input), yesWords) }

func isNegative(input string) bool { return matchKeyword(strings.ToUpper(input), noWords) }

func isExit(input string) bool { return matchKeyword(strings.ToUpper(input), exitWords) }
