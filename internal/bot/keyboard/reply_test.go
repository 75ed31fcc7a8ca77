package keyboard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
)

func TestMainMenu(t *testing.T) {
	markup := keyboard.MainMenu(newTranslator())
	assert.True(t, markup.ResizeKeyboard)

	expectedRows := [][]string{
		{"Generate", "Avatar"},
		{"Balance", "Buy"},
		{"Invite", "Language"},
	}

	require.Len(t, markup.ReplyKeyboard, len(expectedRows))
	for i, row := range expectedRows {
		require.Len(t, markup.ReplyKeyboard[i], len(row))
		for j, text := range row {
			assert.Equal(t, text, markup.ReplyKeyboard[i][j].Text)
		}
	}
}
