package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"refresh", Refresh, true},
		{"  Sync ", Refresh, true},
		{"read-all", ReadAll, true},
		{"ra", ReadAll, true},
		{"logout", Logout, true},
		{"q", Quit, true},
		{"configure", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Resolve(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func typeInto(m Model, s string) Model {
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestModel_Enter(t *testing.T) {
	t.Run("known command", func(t *testing.T) {
		m := New(80, 24)
		m.Focus()
		m = typeInto(m, "logout")

		m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		assert.Equal(t, CommandMsg(Logout), cmd())
		assert.NotContains(t, m.View(), "unknown command")
	})

	t.Run("unknown command", func(t *testing.T) {
		m := New(80, 24)
		m.Focus()
		m = typeInto(m, "frobnicate")

		m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
		assert.Contains(t, m.View(), "unknown command: frobnicate")
	})

	t.Run("empty input", func(t *testing.T) {
		m := New(80, 24)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
	})
}

func TestModel_Escape(t *testing.T) {
	m := New(80, 24)
	m.Focus()
	m = typeInto(m, "ref")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, CancelMsg{}, cmd())
}
