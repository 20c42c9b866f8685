// Package g2p converts words into canonical phoneme sequences.
package g2p

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Converter maps a word to its phoneme sequence. Implementations must be
// deterministic for a given word. A word the converter does not know yields
// an empty slice and a nil error.
type Converter interface {
	Phonemes(ctx context.Context, word string) ([]string, error)
}

// Dictionary is a pronunciation dictionary in CMUdict format.
type Dictionary struct {
	entries map[string][]string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string][]string)}
}

// Add stores the pronunciation of word. The first pronunciation added wins;
// later variants are ignored.
func (d *Dictionary) Add(word string, phonemes []string) {
	key := normalizeWord(word)
	if key == "" {
		return
	}
	if _, exists := d.entries[key]; exists {
		return
	}
	d.entries[key] = phonemes
}

// Load reads a CMUdict-style dictionary.
// Format: WORD<whitespace>PH1 PH2 ...; alternates are written WORD(2) and
// comment lines start with ";;;" or "#", and a "#" field ends an entry.
func Load(r io.Reader) (*Dictionary, error) {
	d := NewDictionary()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";;;") || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		// cmudict.dict annotates some entries with a trailing "# comment".
		for i := 1; i < len(fields); i++ {
			if strings.HasPrefix(fields[i], "#") {
				fields = fields[:i]
				break
			}
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected a word followed by phonemes", lineNum)
		}

		word := fields[0]
		if i := strings.IndexByte(word, '('); i > 0 && strings.HasSuffix(word, ")") {
			word = word[:i]
		}
		d.Add(word, fields[1:])
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}

	return d, nil
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Phonemes implements Converter.
func (d *Dictionary) Phonemes(_ context.Context, word string) ([]string, error) {
	ph := d.entries[normalizeWord(word)]
	out := make([]string, len(ph))
	copy(out, ph)
	return out, nil
}

// Len returns the number of distinct words.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}
