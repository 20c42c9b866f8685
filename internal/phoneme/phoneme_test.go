package phoneme

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVocabulary(t *testing.T) {
	v, err := NewVocabulary([]string{"<pad>", "|", "ð", "ə", "k"})
	require.NoError(t, err)

	assert.Equal(t, 5, v.Len())

	i, ok := v.IndexOf("ə")
	assert.True(t, ok)
	assert.Equal(t, 3, i)

	_, ok = v.IndexOf("ʒ")
	assert.False(t, ok)

	s, ok := v.SymbolOf(4)
	assert.True(t, ok)
	assert.Equal(t, Symbol("k"), s)

	_, ok = v.SymbolOf(5)
	assert.False(t, ok)
	_, ok = v.SymbolOf(-1)
	assert.False(t, ok)

	blank, ok := v.Blank()
	assert.True(t, ok)
	assert.Equal(t, 0, blank)

	delim, ok := v.WordDelimiter()
	assert.True(t, ok)
	assert.Equal(t, 1, delim)

	assert.True(t, v.IsSpecial(0))
	assert.True(t, v.IsSpecial(1))
	assert.False(t, v.IsSpecial(2))
}

func TestNewVocabulary_Errors(t *testing.T) {
	_, err := NewVocabulary(nil)
	assert.ErrorIs(t, err, ErrEmptyVocabulary)

	_, err = NewVocabulary([]string{"a", "b", "a"})
	assert.Error(t, err)
}

func TestVocabulary_LabelsIsCopy(t *testing.T) {
	v, err := NewVocabulary([]string{"a", "b"})
	require.NoError(t, err)

	labels := v.Labels()
	labels[0] = "z"

	s, _ := v.SymbolOf(0)
	assert.Equal(t, Symbol("a"), s)
}

func TestARPAbetToIPA_Translate(t *testing.T) {
	m := ARPAbetToIPA()

	tests := []struct {
		source string
		want   Symbol
		mapped bool
	}{
		{"DH", "ð", true},
		{"AH0", "ə", true},
		{"AH1", "ʌ", true},
		{"ER0", "ɚ", true},
		{"ER1", "ɝ", true},
		{"iy2", "i", true},
		{"NG", "ŋ", true},
		{" ", "", false},
		{"QQ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			r := m.Translate(tt.source)
			got, ok := r.Symbol()
			assert.Equal(t, tt.mapped, ok)
			assert.Equal(t, tt.mapped, r.IsMapped())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.source, r.Source)
		})
	}
}

func TestARPAbetToIPA_CoversPhoneSet(t *testing.T) {
	m := ARPAbetToIPA()
	assert.Equal(t, "cmudict-0.7b/timit-ipa-1", m.Version)
	assert.Equal(t, 41, m.Len())
}

func TestARPAbetToIPA_ConcurrentFirstUse(t *testing.T) {
	var wg sync.WaitGroup
	maps := make([]*SymbolMap, 8)
	for i := range maps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			maps[i] = ARPAbetToIPA()
		}(i)
	}
	wg.Wait()

	for _, m := range maps {
		assert.Same(t, maps[0], m)
	}
}

func TestTranslate_NilTableIsIdentity(t *testing.T) {
	r := Translate("ʃ", nil)
	s, ok := r.Symbol()
	assert.True(t, ok)
	assert.Equal(t, Symbol("ʃ"), s)

	assert.False(t, Translate("  ", nil).IsMapped())
}

func TestParseSymbolMap_Errors(t *testing.T) {
	_, err := ParseSymbolMap([]byte("version: x\nphones: {}\n"))
	assert.Error(t, err)

	_, err = ParseSymbolMap([]byte("phones: [not, a, map]"))
	assert.Error(t, err)
}

func TestResolution_String(t *testing.T) {
	assert.Equal(t, "SH->ʃ", Resolved("SH", "ʃ").String())
	assert.Equal(t, "unmapped(QQ)", Unmapped("QQ").String())
}
