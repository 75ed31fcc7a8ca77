package keyboard_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
)

type mockTranslator struct {
	translations map[string]string
	lang         string
}

func newTranslator() *mockTranslator {
	return &mockTranslator{translations: map[string]string{
		"pagination.prev": "◀️ Prev",
		"pagination.next": "Next ▶️",
		"pagination.page": "Page %d/%d",
		"buy.package":     "%s - %s",
		"common.back":     "« Back",
		"menu.generate":   "Generate",
		"menu.avatar":     "Avatar",
		"menu.balance":    "Balance",
		"menu.buy":        "Buy",
		"menu.referral":   "Invite",
		"menu.lang":       "Language",
	}}
}

func (m *mockTranslator) T(key string) string {
	if val, ok := m.translations[key]; ok {
		return val
	}
	return key
}

func (m *mockTranslator) Tf(key string, args ...any) string {
	val, ok := m.translations[key]
	if !ok {
		return key
	}
	return fmt.Sprintf(val, args...)
}

func (m *mockTranslator) Lang() string {
	if m.lang == "" {
		return "en"
	}
	return m.lang
}

func TestPaginationButtons(t *testing.T) {
	testCases := []struct {
		name      string
		page      int
		total     int
		wantTexts []string
		wantData  []string
	}{
		{name: "first page", page: 1, total: 5, wantTexts: []string{"Page 1/5", "Next ▶️"}, wantData: []string{"1", "2"}},
		{name: "middle page", page: 3, total: 5, wantTexts: []string{"◀️ Prev", "Page 3/5", "Next ▶️"}, wantData: []string{"2", "3", "4"}},
		{name: "last page", page: 5, total: 5, wantTexts: []string{"◀️ Prev", "Page 5/5"}, wantData: []string{"4", "5"}},
		{name: "single page", page: 1, total: 1, wantTexts: []string{"Page 1/1"}, wantData: []string{"1"}},
		{name: "out of range", page: 9, total: 2, wantTexts: []string{"◀️ Prev", "Page 2/2"}, wantData: []string{"1", "2"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buttons := keyboard.PaginationButtons(newTranslator(), "gen_page", tc.page, tc.total)
			require.Len(t, buttons, len(tc.wantTexts))

			for i := range tc.wantTexts {
				assert.Equal(t, tc.wantTexts[i], buttons[i].Text)
				assert.Equal(t, "gen_page", buttons[i].Unique)
				assert.Equal(t, tc.wantData[i], buttons[i].Data)
			}
		})
	}
}

func TestPaginationWithoutTranslator(t *testing.T) {
	buttons := keyboard.PaginationButtons(nil, "p", 2, 3)
	require.Len(t, buttons, 3)
	assert.Equal(t, "2/3", buttons[1].Text)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 1, keyboard.TotalPages(0, 6))
	assert.Equal(t, 1, keyboard.TotalPages(6, 6))
	assert.Equal(t, 2, keyboard.TotalPages(7, 6))
}
