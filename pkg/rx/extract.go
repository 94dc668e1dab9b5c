// Package rx turns OCR lines from a prescription into structured fields.
package rx

import (
	"regexp"
	"strings"
	"time"
)

// Medicine is one prescribed drug as read from the page.
type Medicine struct {
	Name         string `json:"name"`
	Generic      string `json:"generic,omitempty"`
	Form         string `json:"form,omitempty"`
	Strength     string `json:"strength,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

func (m Medicine) lookupName() string {
	if m.Generic != "" {
		return m.Generic
	}
	return m.Name
}

// Prescription is the structured result of Extract.
type Prescription struct {
	Medicines         []Medicine `json:"medicines"`
	Diagnosis         string     `json:"diagnosis"`
	DiagnosisInferred bool       `json:"diagnosis_inferred"`
	Complaints        []string   `json:"complaints,omitempty"`
	FollowUp          string     `json:"follow_up"`
	FollowUpDate      *time.Time `json:"follow_up_date,omitempty"`
	Advice            []string   `json:"advice"`
	Uses              []string   `json:"uses"`
	Warnings          []string   `json:"warnings"`
	Remedies          []string   `json:"remedies"`
	Unclassified      []string   `json:"unclassified,omitempty"`
}

// AdviceText joins advice lines with newlines.
func (p *Prescription) AdviceText() string {
	return strings.Join(p.Advice, "\n")
}

type section int

const (
	sectionNone section = iota
	sectionDiagnosis
	sectionComplaints
	sectionAdvice
)

var (
	bulletRE      = regexp.MustCompile(`^(?:[-*•·>]+\s*|\(?\d{1,2}[.)]\s+)`)
	rxMarkerRE    = regexp.MustCompile(`(?i)^(?:rx|℞|r/x)(?:[\s:.\-]+|$)`)
	boilerplateRE = regexp.MustCompile(`(?i)^(?:dr\.?\s|doctor\b|reg(?:d|istration)?\.?\s*no|clinic\b|hospital\b|m\.?b\.?b\.?s|md\b|phone\b|ph\.?\s*[:\-]|tel\b|mob(?:ile)?\b|date\s*[:\-]|name\s*[:\-]|age\s*[:\-/]|sex\s*[:\-]|patient\b|signature\b|sign\b|timings?\b|address\b)`)
	phoneOnlyRE   = regexp.MustCompile(`^\+?[\d\s\-()]{8,}$`)
	letterheadRE  = regexp.MustCompile(`(?i)\b(?:clinic|hospital|nursing\s+home|polyclinic)\b|\bdr\.?\s`)
	phoneLabelRE  = regexp.MustCompile(`(?i)\b(?:contact|ph(?:one)?|mob(?:ile)?|tel(?:ephone)?|cell)\.?(?:\s*no\.?)?\s*[:\-]?\s*\+?\d[\d\s\-()]{6,}\d`)

	diagnosisRE = regexp.MustCompile(`(?i)^(?:provisional\s+)?(?:diagnosis|diag|dx|impression)\b\s*[:\-.]?\s*(.*)$`)
	complaintRE = regexp.MustCompile(`(?i)^(?:c/o|chief\s+complaints?|complaints?|symptoms?)(?:\b|\s)\s*[:\-.]?\s*(.*)$`)
	followUpRE  = regexp.MustCompile(`(?i)\b(?:follow[\s\-]*up|f/u|review|revisit|next\s+visit|come\s+back|recheck)\b[\s:.\-]*(.*)$`)
	adviceRE    = regexp.MustCompile(`(?i)^(?:general\s+)?(?:advice|adv|advised|instructions?|notes?)\b\s*[:\-.]?\s*(.*)$`)

	formRE     = regexp.MustCompile(`(?i)^(tab(?:let)?s?|cap(?:sule)?s?|syp|syr(?:up)?|inj(?:ection)?|oint(?:ment)?|drops?|gel|cream|susp(?:ension)?|lotion|inh(?:aler)?|sachet|powder|spray)\b\.?\s*(.*)$`)
	strengthRE = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?\s*(?:mg|mcg|µg|gm|g|ml|iu|units?|%)(?:\s*/\s*\d+(?:\.\d+)?\s*(?:mg|mcg|ml|g))?)(?:\b|$)`)

	patternFreqRE = regexp.MustCompile(`(?:^|[\s(])([0-2½](?:\s*[-–]\s*[0-2½]){2,3})(?:$|[\s),.;])`)
	abbrevFreqRE  = regexp.MustCompile(`(?i)\b(o\.?d|b\.?d|bid|t\.?d\.?s|tid|q\.?i\.?d|qds|h\.?s|sos|prn|stat|qhs|q\d{1,2}h)\b\.?`)
	wordFreqRE    = regexp.MustCompile(`(?i)\b((?:once|twice|thrice|three\s+times|four\s+times|\d\s*times?)\s*(?:a|per)?\s*(?:day|daily|week|weekly)|(?:once|twice|thrice)\s+daily|every\s+\d+\s*(?:hours?|hrs?)|every\s+(?:morning|night|evening)|daily|weekly|at\s+bedtime)\b`)

	durLongRE  = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(days?|weeks?|wks?|months?|mths?)\b`)
	durShortRE = regexp.MustCompile(`(?i)(?:\bx|×|\bfor)\s*(\d{1,3})\s*([dwm])\b`)

	instructionRE = regexp.MustCompile(`(?i)\b(after\s+(?:food|meals?|breakfast|lunch|dinner)|before\s+(?:food|meals?|breakfast|lunch|dinner|sleep|bed)|with\s+(?:food|meals?|milk|water)|empty\s+stomach|at\s+bedtime|at\s+night|[ab]/f)\b`)
	adviceWordRE  = regexp.MustCompile(`(?i)\b(drink|avoid|rest|diet|plenty\s+of|exercise|walk|hydrat\w*|steam|gargle|salt|sugar|oily|spicy|alcohol|smoking|fluids?|sleep)\b`)

	digitTokenRE = regexp.MustCompile(`^([0-9OolI]+(?:\.[0-9OolI]+)?)(mg|mcg|ml|gm|g)?$`)
	digitDashRE  = regexp.MustCompile(`^[0-2OolI](?:[-–][0-2OolI]){2,3}$`)
)

// nameStop are tokens that end a medicine name.
var nameStop = map[string]bool{
	"x": true, "for": true, "after": true, "before": true, "with": true, "at": true,
	"daily": true, "once": true, "twice": true, "thrice": true, "od": true, "bd": true,
	"bid": true, "tds": true, "tid": true, "qid": true, "qds": true, "hs": true, "sos": true,
	"prn": true, "stat": true, "morning": true, "night": true, "evening": true, "every": true,
	"take": true, "then": true, "and": true, "-": true, "each": true, "per": true,
}

// notMedicine are first tokens that rule out a name-only medicine line.
var notMedicine = map[string]bool{
	"take": true, "drink": true, "avoid": true, "use": true, "apply": true, "eat": true,
	"continue": true, "stop": true, "check": true, "bp": true, "weight": true, "temp": true,
	"pulse": true, "spo2": true, "rbs": true, "fbs": true, "hb": true,
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the clock used to anchor relative follow-up dates.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// Extractor classifies OCR lines into prescription fields.
type Extractor struct {
	kb  *Knowledge
	now func() time.Time
}

// NewExtractor builds an Extractor. A nil knowledge base uses the embedded one.
func NewExtractor(kb *Knowledge, opts ...Option) *Extractor {
	if kb == nil {
		kb = DefaultKnowledge()
	}
	e := &Extractor{kb: kb, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Knowledge returns the knowledge base in use.
func (e *Extractor) Knowledge() *Knowledge { return e.kb }

// Extract classifies lines and enriches the result from the knowledge base.
func (e *Extractor) Extract(lines []string) *Prescription {
	p := &Prescription{Medicines: []Medicine{}, Advice: []string{}, Uses: []string{}, Warnings: []string{}, Remedies: []string{}}
	var (
		sec      section
		lastMed  = -1
		medIndex = map[string]int{}
		diag     []string
	)
	for _, raw := range lines {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		if rxMarkerRE.MatchString(line) {
			line = strings.TrimSpace(rxMarkerRE.ReplaceAllString(line, ""))
			sec = sectionNone
			if line == "" {
				continue
			}
		}
		if isBoilerplate(line) {
			continue
		}

		if m := diagnosisRE.FindStringSubmatch(line); m != nil {
			sec = sectionDiagnosis
			if rest := trimPunct(m[1]); rest != "" {
				diag = append(diag, rest)
			}
			continue
		}
		if m := complaintRE.FindStringSubmatch(line); m != nil {
			sec = sectionComplaints
			if rest := trimPunct(m[1]); rest != "" {
				p.Complaints = append(p.Complaints, rest)
			}
			continue
		}
		if m := followUpRE.FindStringSubmatch(line); m != nil {
			e.setFollowUp(p, line, trimPunct(m[1]))
			continue
		}
		if m := adviceRE.FindStringSubmatch(line); m != nil {
			sec = sectionAdvice
			if rest := trimPunct(m[1]); rest != "" {
				p.Advice = append(p.Advice, rest)
			}
			continue
		}

		if med, ok := e.parseMedicine(line); ok {
			key := strings.ToLower(med.Name)
			if i, dup := medIndex[key]; dup {
				mergeMedicine(&p.Medicines[i], med)
				lastMed = i
			} else {
				medIndex[key] = len(p.Medicines)
				p.Medicines = append(p.Medicines, med)
				lastMed = len(p.Medicines) - 1
			}
			if sec != sectionAdvice {
				sec = sectionNone
			}
			continue
		}

		if lastMed >= 0 && sec == sectionNone {
			if extra, ok := parseDosageOnly(line); ok && !looksLikeAdvice(line, extra) && fillMedicine(&p.Medicines[lastMed], extra) {
				continue
			}
		}

		switch {
		case sec == sectionAdvice || adviceWordRE.MatchString(line):
			p.Advice = append(p.Advice, trimPunct(line))
		case sec == sectionDiagnosis:
			diag = append(diag, trimPunct(line))
		case sec == sectionComplaints:
			p.Complaints = append(p.Complaints, trimPunct(line))
		default:
			p.Unclassified = append(p.Unclassified, line)
		}
	}

	for i := range p.Medicines {
		p.Medicines[i].Dosage = strings.TrimSpace(p.Medicines[i].Strength + " " + p.Medicines[i].Frequency)
	}
	p.Diagnosis = strings.Join(diag, "; ")
	if p.Diagnosis == "" && len(p.Complaints) > 0 {
		if cs := e.kb.MatchConditions(strings.Join(p.Complaints, " ")); len(cs) > 0 {
			p.Diagnosis = cs[0].Name
			p.DiagnosisInferred = true
		}
	}
	if p.Diagnosis == "" {
		if d := e.kb.InferDiagnosis(p.Medicines); d != "" {
			p.Diagnosis = d
			p.DiagnosisInferred = true
		}
	}
	e.kb.Enrich(p)
	return p
}

func (e *Extractor) setFollowUp(p *Prescription, line, rest string) {
	text := rest
	if text == "" {
		text = trimPunct(line)
	}
	if p.FollowUp == "" {
		p.FollowUp = text
	} else {
		p.FollowUp += "; " + text
	}
	if p.FollowUpDate != nil {
		return
	}
	if t, ok := ParseFollowUpDate(text, e.now()); ok {
		p.FollowUpDate = &t
	}
}

// parseMedicine recognizes a line naming a drug, either by dosage-form
// prefix, by knowledge base name, or by a name followed by a strength.
func (e *Extractor) parseMedicine(line string) (Medicine, bool) {
	var med Medicine
	body := line
	if m := formRE.FindStringSubmatch(line); m != nil {
		med.Form = canonicalForm(m[1])
		body = m[2]
	}
	name := leadingName(body)
	if name == "" {
		return Medicine{}, false
	}
	first := strings.ToLower(strings.Fields(name)[0])
	info, known := e.lookupPrefix(name)
	if med.Form == "" {
		if notMedicine[first] {
			return Medicine{}, false
		}
		if !known && !strengthRE.MatchString(body) {
			return Medicine{}, false
		}
	}
	med.Name = name
	if known {
		med.Generic = info.Name
	}
	extra, _ := parseDosageOnly(body[len(name):])
	fillMedicine(&med, extra)
	return med, true
}

// lookupPrefix tries the longest leading word run of name in the knowledge base.
func (e *Extractor) lookupPrefix(name string) (MedicineInfo, bool) {
	words := strings.Fields(name)
	for n := len(words); n > 0; n-- {
		if info, ok := e.kb.Lookup(strings.Join(words[:n], " ")); ok {
			return info, true
		}
	}
	return MedicineInfo{}, false
}

// parseDosageOnly extracts strength, frequency, duration and instructions.
// ok is false when none were found.
func parseDosageOnly(s string) (Medicine, bool) {
	var m Medicine
	if x := strengthRE.FindStringSubmatch(s); x != nil {
		m.Strength = strings.Join(strings.Fields(x[1]), "")
	}
	m.Frequency = parseFrequency(s)
	m.Duration = parseDuration(s)
	if x := instructionRE.FindStringSubmatch(s); x != nil {
		m.Instructions = canonicalInstruction(x[1])
	}
	ok := m.Strength != "" || m.Frequency != "" || m.Duration != "" || m.Instructions != ""
	return m, ok
}

func parseFrequency(s string) string {
	if x := patternFreqRE.FindStringSubmatch(s); x != nil {
		return strings.Join(strings.Fields(strings.ReplaceAll(x[1], "–", "-")), "")
	}
	if x := abbrevFreqRE.FindStringSubmatch(s); x != nil {
		return strings.ToUpper(strings.ReplaceAll(x[1], ".", ""))
	}
	if x := wordFreqRE.FindStringSubmatch(s); x != nil {
		return strings.ToLower(strings.Join(strings.Fields(x[1]), " "))
	}
	return ""
}

func parseDuration(s string) string {
	n, unit := "", ""
	if x := durLongRE.FindStringSubmatch(s); x != nil {
		n, unit = x[1], strings.ToLower(x[2])
	} else if x := durShortRE.FindStringSubmatch(s); x != nil {
		n, unit = x[1], strings.ToLower(x[2])
	} else {
		return ""
	}
	switch unit[0] {
	case 'd':
		unit = "day"
	case 'w':
		unit = "week"
	default:
		unit = "month"
	}
	if n != "1" {
		unit += "s"
	}
	return n + " " + unit
}

// leadingName returns up to three leading words of s that can form a drug
// name: the first must start with a letter, and digits or dosing words stop it.
func leadingName(s string) string {
	var words []string
	for _, w := range strings.Fields(s) {
		lw := strings.ToLower(strings.Trim(w, ".,:;"))
		if lw == "" || nameStop[lw] || strengthRE.MatchString(w) {
			break
		}
		c := lw[0]
		if c < 'a' || c > 'z' {
			break
		}
		if len(lw) <= 4 && abbrevFreqRE.MatchString(lw) {
			break
		}
		words = append(words, strings.Trim(w, ".,:;"))
		if len(words) == 3 {
			break
		}
	}
	return strings.Join(words, " ")
}

// looksLikeAdvice reports whether a line with dosing words is general
// advice ("walk daily", "rest for 3 days") rather than a dose.
func looksLikeAdvice(line string, m Medicine) bool {
	return adviceWordRE.MatchString(line) && m.Strength == "" && !patternFreqRE.MatchString(line)
}

func mergeMedicine(dst *Medicine, src Medicine) {
	if dst.Form == "" {
		dst.Form = src.Form
	}
	fillMedicine(dst, src)
}

// fillMedicine copies dosing fields from src where dst has none and
// reports whether any field was filled.
func fillMedicine(dst *Medicine, src Medicine) bool {
	filled := false
	type field struct {
		dst *string
		src string
	}
	for _, f := range []field{
		{&dst.Strength, src.Strength},
		{&dst.Frequency, src.Frequency},
		{&dst.Duration, src.Duration},
		{&dst.Instructions, src.Instructions},
	} {
		if *f.dst == "" && f.src != "" {
			*f.dst = f.src
			filled = true
		}
	}
	return filled
}

// isBoilerplate reports letterhead lines: doctor and clinic names,
// registration numbers, patient details and phone numbers.
func isBoilerplate(line string) bool {
	return boilerplateRE.MatchString(line) || phoneOnlyRE.MatchString(line) ||
		letterheadRE.MatchString(line) || phoneLabelRE.MatchString(line)
}

func canonicalForm(f string) string {
	f = strings.ToLower(f)
	switch {
	case strings.HasPrefix(f, "tab"):
		return "tablet"
	case strings.HasPrefix(f, "cap"):
		return "capsule"
	case strings.HasPrefix(f, "sy"):
		return "syrup"
	case strings.HasPrefix(f, "inj"):
		return "injection"
	case strings.HasPrefix(f, "oint"):
		return "ointment"
	case strings.HasPrefix(f, "drop"):
		return "drops"
	case strings.HasPrefix(f, "susp"):
		return "suspension"
	case strings.HasPrefix(f, "inh"):
		return "inhaler"
	}
	return f
}

func canonicalInstruction(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	switch s {
	case "a/f":
		return "after food"
	case "b/f":
		return "before food"
	}
	return s
}

// cleanLine strips bullets and numbering and repairs digits OCR read as letters.
func cleanLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = bulletRE.ReplaceAllString(s, "")
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = repairDigits(w)
	}
	return strings.Join(words, " ")
}

func repairDigits(w string) string {
	if digitDashRE.MatchString(w) {
		return digitFix.Replace(w)
	}
	if !strings.ContainsAny(w, "0123456789") {
		return w
	}
	if m := digitTokenRE.FindStringSubmatch(w); m != nil {
		return digitFix.Replace(m[1]) + m[2]
	}
	return w
}

var digitFix = strings.NewReplacer("O", "0", "o", "0", "l", "1", "I", "1")

func trimPunct(s string) string {
	return strings.Trim(strings.TrimSpace(s), " .,:;-")
}
