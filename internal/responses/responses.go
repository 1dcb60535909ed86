// Package responses holds the canned phrases DeskPipe draws its replies from.
//
// A Pool is immutable after construction; lookups are safe for concurrent use.
package responses

import (
	"time"

	"github.com/BTreeMap/DeskPipe/internal/util"
)

// FallbackPhrase is returned when a phrase list is empty.
const FallbackPhrase = "Desculpe, não tenho uma resposta disponível."

// DefaultOpenings are used on the first contact of the day.
var DefaultOpenings = []string{
	"Obrigado por entrar em contato. Como posso ajudar você hoje?",
	"Opa, o que precisa?",
	"Como posso ajudar?",
	"O que precisa hoje?",
}

// DefaultClosings are used on every later contact of the day.
var DefaultClosings = []string{
	"Obrigado pela mensagem! Estou analisando e respondo em breve.",
	"Beleza, vou analisar aqui!",
	"Um momento por favor.",
}

// Pool is a static set of opening and closing phrases.
type Pool struct {
	openings []string
	closings []string
}

// NewPool copies the given phrase lists into a new Pool.
func NewPool(openings, closings []string) *Pool {
	return &Pool{
		openings: append([]string(nil), openings...),
		closings: append([]string(nil), closings...),
	}
}

// Default returns a Pool built from DefaultOpenings and DefaultClosings.
func Default() *Pool {
	return NewPool(DefaultOpenings, DefaultClosings)
}

// Opening returns a random opening phrase.
func (p *Pool) Opening() string {
	return pick(p.openings)
}

// Closing returns a random closing phrase.
func (p *Pool) Closing() string {
	return pick(p.closings)
}

// Counts returns the number of opening and closing phrases.
func (p *Pool) Counts() (openings, closings int) {
	return len(p.openings), len(p.closings)
}

func pick(items []string) string {
	if s, ok := util.PickRandom(items); ok {
		return s
	}
	return FallbackPhrase
}

// Greeting returns the time-of-day salutation for t in t's location:
// 05:00-11:59 "Bom dia", 12:00-17:59 "Boa tarde", otherwise "Boa noite".
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}
