package rx

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var embeddedKnowledge []byte

// MedicineInfo is a knowledge base entry for a drug.
type MedicineInfo struct {
	Name       string   `yaml:"name"`
	Aliases    []string `yaml:"aliases"`
	Class      string   `yaml:"class"`
	Conditions []string `yaml:"conditions"`
	Uses       string   `yaml:"uses"`
}

// ConditionInfo is a knowledge base entry for a diagnosis.
type ConditionInfo struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Ignored  string   `yaml:"ignored"`
	Remedies []string `yaml:"remedies"`
}

// Knowledge maps medicine names to conditions and conditions to advice.
type Knowledge struct {
	medicines  []MedicineInfo
	conditions []ConditionInfo
	byName     map[string]int // lowercased name or alias -> medicines index
	condByName map[string]int
	condRE     []*regexp.Regexp
}

type knowledgeFile struct {
	Medicines  []MedicineInfo  `yaml:"medicines"`
	Conditions []ConditionInfo `yaml:"conditions"`
}

// DefaultKnowledge parses the embedded knowledge base.
func DefaultKnowledge() *Knowledge {
	kb, err := ParseKnowledge(embeddedKnowledge)
	if err != nil {
		panic(fmt.Sprintf("embedded knowledge base: %v", err))
	}
	return kb
}

// LoadKnowledge reads a YAML knowledge file from disk.
func LoadKnowledge(path string) (*Knowledge, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return ParseKnowledge(b)
}

// ParseKnowledge builds a Knowledge from YAML. Medicines must reference
// conditions that exist in the same document.
func ParseKnowledge(data []byte) (*Knowledge, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge: %w", err)
	}
	kb := &Knowledge{
		medicines:  f.Medicines,
		conditions: f.Conditions,
		byName:     map[string]int{},
		condByName: map[string]int{},
	}
	for i, c := range f.Conditions {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			return nil, fmt.Errorf("condition %d has no name", i)
		}
		kb.condByName[key] = i
		words := append([]string{c.Name}, c.Keywords...)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(strings.ToLower(w))
		}
		kb.condRE = append(kb.condRE, regexp.MustCompile(`\b(?:`+strings.Join(words, "|")+`)\b`))
	}
	for i, m := range f.Medicines {
		key := strings.ToLower(strings.TrimSpace(m.Name))
		if key == "" {
			return nil, fmt.Errorf("medicine %d has no name", i)
		}
		for _, c := range m.Conditions {
			if _, ok := kb.condByName[strings.ToLower(c)]; !ok {
				return nil, fmt.Errorf("medicine %s references unknown condition %q", m.Name, c)
			}
		}
		kb.byName[key] = i
		for _, a := range m.Aliases {
			kb.byName[strings.ToLower(strings.TrimSpace(a))] = i
		}
	}
	return kb, nil
}

// Lookup finds a medicine by name or alias. Names of six or more letters
// also match with a single OCR edit.
func (k *Knowledge) Lookup(name string) (MedicineInfo, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return MedicineInfo{}, false
	}
	if i, ok := k.byName[key]; ok {
		return k.medicines[i], true
	}
	if len(key) < 6 {
		return MedicineInfo{}, false
	}
	for _, m := range k.medicines {
		for _, cand := range append([]string{m.Name}, m.Aliases...) {
			cand = strings.ToLower(cand)
			if len(cand) >= 6 && abs(len(cand)-len(key)) <= 1 && levenshtein(cand, key) <= 1 {
				return m, true
			}
		}
	}
	return MedicineInfo{}, false
}

// Condition returns the condition entry with the given name.
func (k *Knowledge) Condition(name string) (ConditionInfo, bool) {
	i, ok := k.condByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ConditionInfo{}, false
	}
	return k.conditions[i], true
}

// MatchConditions returns conditions whose name or keywords occur in text,
// in knowledge base order.
func (k *Knowledge) MatchConditions(text string) []ConditionInfo {
	low := strings.ToLower(text)
	var out []ConditionInfo
	for i, re := range k.condRE {
		if re.MatchString(low) {
			out = append(out, k.conditions[i])
		}
	}
	return out
}

// InferDiagnosis votes over the conditions treated by meds. Ties go to the
// condition seen first. Returns "" when no medicine is known.
func (k *Knowledge) InferDiagnosis(meds []Medicine) string {
	votes := map[string]int{}
	var order []string
	for _, m := range meds {
		info, ok := k.Lookup(m.lookupName())
		if !ok {
			continue
		}
		for _, c := range info.Conditions {
			if _, seen := votes[c]; !seen {
				order = append(order, c)
			}
			votes[c]++
		}
	}
	best, bestVotes := "", 0
	for _, c := range order {
		if votes[c] > bestVotes {
			best, bestVotes = c, votes[c]
		}
	}
	return best
}

// Enrich fills uses, warnings and remedies from the knowledge base.
func (k *Knowledge) Enrich(p *Prescription) {
	seenMed := map[string]bool{}
	for _, m := range p.Medicines {
		info, ok := k.Lookup(m.lookupName())
		if !ok || seenMed[info.Name] || info.Uses == "" {
			continue
		}
		seenMed[info.Name] = true
		p.Uses = append(p.Uses, info.Name+": "+info.Uses)
	}
	seenRemedy := map[string]bool{}
	for _, c := range k.MatchConditions(p.Diagnosis) {
		if c.Ignored != "" {
			p.Warnings = append(p.Warnings, c.Name+": "+c.Ignored)
		}
		for _, r := range c.Remedies {
			if !seenRemedy[r] {
				seenRemedy[r] = true
				p.Remedies = append(p.Remedies, r)
			}
		}
	}
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
