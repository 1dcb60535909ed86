package responses

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGreeting(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.Local) }

	tests := []struct {
		at   time.Time
		want string
	}{
		{day(4, 59), "Boa noite"},
		{day(5, 0), "Bom dia"},
		{day(9, 0), "Bom dia"},
		{day(11, 59), "Bom dia"},
		{day(12, 0), "Boa tarde"},
		{day(17, 59), "Boa tarde"},
		{day(18, 0), "Boa noite"},
		{day(23, 30), "Boa noite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Greeting(tt.at), "hour %s", tt.at.Format("15:04"))
	}
}

func TestPoolDrawsFromLists(t *testing.T) {
	p := NewPool([]string{"oi"}, []string{"tchau"})
	assert.Equal(t, "oi", p.Opening())
	assert.Equal(t, "tchau", p.Closing())
}

func TestPoolEmptyListsFallBack(t *testing.T) {
	p := NewPool(nil, nil)
	assert.Equal(t, FallbackPhrase, p.Opening())
	assert.Equal(t, FallbackPhrase, p.Closing())
}

func TestPoolIsolatedFromCallerSlice(t *testing.T) {
	openings := []string{"a"}
	p := NewPool(openings, nil)
	openings[0] = "mutated"
	assert.Equal(t, "a", p.Opening())
}

func TestDefaultPool(t *testing.T) {
	o, c := Default().Counts()
	assert.Equal(t, len(DefaultOpenings), o)
	assert.Equal(t, len(DefaultClosings), c)
	assert.Contains(t, DefaultOpenings, Default().Opening())
}
