package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/locales"
)

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"ru.yaml": {Data: []byte("ru:\n  balance:\n    text: \"Баланс: %d\"\n  only_ru: \"да\"\n")},
		"en.yaml": {Data: []byte("en:\n  balance:\n    text: \"Balance: %d\"\n")},
		"README":  {Data: []byte("ignored")},
	}

	m, err := LoadFS(fsys, ".", "ru")
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ru"}, m.Languages())

	en := m.Translator("EN")
	assert.Equal(t, "en", en.Lang())
	assert.Equal(t, "Balance: 5", en.Tf("balance.text", 5))
	assert.Equal(t, "да", en.T("only_ru"), "falls back to the default language")
	assert.Equal(t, "missing.key", en.T("missing.key"))

	assert.Equal(t, "ru", m.Translator("de").Lang())
	assert.True(t, m.Supports("en"))
	assert.False(t, m.Supports("de"))
}

func TestLoadFSMissingDefault(t *testing.T) {
	_, err := LoadFS(fstest.MapFS{"en.yaml": {Data: []byte("en:\n  a: b\n")}}, ".", "ru")
	assert.Error(t, err)
}

func TestEmbeddedCatalogsAreComplete(t *testing.T) {
	m, err := LoadFS(locales.FS, ".", "ru")
	require.NoError(t, err)

	ru := m.translations["ru"]
	en := m.translations["en"]
	for key := range ru {
		assert.Contains(t, en, key, "en catalog lacks %s", key)
	}
	for key := range en {
		assert.Contains(t, ru, key, "ru catalog lacks %s", key)
	}
}
