package responder

import (
	"fmt"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/responses"
	"github.com/BTreeMap/DeskPipe/internal/session"
)

// Fixed reply texts.
const (
	PingCommand     = "!ping"
	PongReply       = "PONG"
	FallbackName    = "usuário"
	CallRejectedMsg = "*Mensagem automática!*\n\nEste número não aceita chamadas de voz ou de vídeo."
)

func ticketOffer(name string) string {
	return fmt.Sprintf("%s, gostaria de abrir um ticket?", name)
}

func askSubject(name string) string {
	return fmt.Sprintf("%s, qual o assunto do ticket?", name)
}

func askSummary(name string) string {
	return fmt.Sprintf("%s, pode me dar um breve resumo do que precisa ser feito?", name)
}

func ticketSummary(name, subject, summary string) string {
	return fmt.Sprintf("%s, beleza,\n\nAssunto do Ticket:\n%s\n\nResumo do ticket:\n%s", name, subject, summary)
}

func greeting(name string, now time.Time, pool *responses.Pool) string {
	return fmt.Sprintf("%s, %s!\n%s", name, responses.Greeting(now), pool.Opening())
}

func closing(name string, pool *responses.Pool) string {
	return fmt.Sprintf("%s, %s", name, pool.Closing())
}

// stepReply returns the text that acknowledges a planned ticket step.
func stepReply(name string, step session.Step) string {
	switch step.Next {
	case models.TicketAwaitingSubject:
		return askSubject(name)
	case models.TicketAwaitingSummary:
		return askSummary(name)
	default:
		return ticketSummary(name, step.Subject, step.Summary)
	}
}
