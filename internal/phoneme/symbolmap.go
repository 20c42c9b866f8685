package phoneme

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed arpabet_ipa.yaml
var arpabetIPAYAML []byte

// Resolution is the outcome of translating one source symbol: either
// Resolved to a target symbol or Unmapped. Callers decide whether an
// unmapped symbol is logged, dropped or treated as a failure.
type Resolution struct {
	Source string
	symbol Symbol
	mapped bool
}

// Resolved returns a successful translation.
func Resolved(source string, target Symbol) Resolution {
	return Resolution{Source: source, symbol: target, mapped: true}
}

// Unmapped returns a failed translation carrying the original symbol.
func Unmapped(source string) Resolution {
	return Resolution{Source: source}
}

// Symbol returns the target symbol and whether the translation succeeded.
func (r Resolution) Symbol() (Symbol, bool) {
	return r.symbol, r.mapped
}

// IsMapped reports whether the source symbol had a target.
func (r Resolution) IsMapped() bool {
	return r.mapped
}

func (r Resolution) String() string {
	if !r.mapped {
		return fmt.Sprintf("unmapped(%s)", r.Source)
	}
	return fmt.Sprintf("%s->%s", r.Source, r.symbol)
}

// SymbolMap translates symbols of one phone set into another.
type SymbolMap struct {
	Version string
	table   map[string]Symbol
}

type symbolMapFile struct {
	Version  string            `yaml:"version"`
	Phones   map[string]string `yaml:"phones"`
	Stressed map[string]string `yaml:"stressed"`
}

// ParseSymbolMap reads a YAML mapping table. Entries under "stressed" win over
// the stress-folded entries under "phones".
func ParseSymbolMap(data []byte) (*SymbolMap, error) {
	var f symbolMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse symbol map: %w", err)
	}
	if len(f.Phones) == 0 {
		return nil, fmt.Errorf("symbol map %q has no phones", f.Version)
	}

	m := &SymbolMap{
		Version: f.Version,
		table:   make(map[string]Symbol, len(f.Phones)+len(f.Stressed)),
	}
	for src, dst := range f.Phones {
		m.table[strings.ToUpper(src)] = Symbol(dst)
	}
	for src, dst := range f.Stressed {
		m.table[strings.ToUpper(src)] = Symbol(dst)
	}
	return m, nil
}

var (
	arpabetOnce sync.Once
	arpabetMap  *SymbolMap
)

// ARPAbetToIPA returns the bundled CMUdict ARPAbet to IPA table.
func ARPAbetToIPA() *SymbolMap {
	arpabetOnce.Do(func() {
		m, err := ParseSymbolMap(arpabetIPAYAML)
		if err != nil {
			panic(err)
		}
		arpabetMap = m
	})
	return arpabetMap
}

// Translate maps a source symbol. Exact entries are tried first, then the
// symbol with its trailing stress digits removed.
func (m *SymbolMap) Translate(source string) Resolution {
	key := strings.ToUpper(strings.TrimSpace(source))
	if key == "" {
		return Unmapped(source)
	}
	if dst, ok := m.table[key]; ok {
		return Resolved(source, dst)
	}
	if dst, ok := m.table[strings.TrimRight(key, "012")]; ok {
		return Resolved(source, dst)
	}
	return Unmapped(source)
}

// Len returns the number of entries in the table.
func (m *SymbolMap) Len() int {
	return len(m.table)
}

// Translate maps source through table. A nil table is the identity mapping.
func Translate(source string, table *SymbolMap) Resolution {
	if table == nil {
		if strings.TrimSpace(source) == "" {
			return Unmapped(source)
		}
		return Resolved(source, Symbol(source))
	}
	return table.Translate(source)
}
