package rx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.March, 10, 15, 4, 0, 0, time.UTC)

func newTestExtractor() *Extractor {
	return NewExtractor(nil, WithClock(func() time.Time { return fixedNow }))
}

func TestExtractFullPrescription(t *testing.T) {
	lines := []string{
		"Dr. A. Sharma MBBS",
		"Reg No 12345",
		"Name: Ravi Kumar",
		"Age: 34",
		"C/O fever, body ache x 3 days",
		"Diagnosis: Viral fever",
		"Rx",
		"1. Tab Crocin 650mg 1-0-1 x 5 days after food",
		"2. Cap. Azithral 500 OD x 3d",
		"3) Pan 40mg before breakfast",
		"Advice:",
		"Drink plenty of fluids",
		"Take rest",
		"Review after 5 days",
	}
	p := newTestExtractor().Extract(lines)

	require.Len(t, p.Medicines, 3)
	crocin := p.Medicines[0]
	assert.Equal(t, "Crocin", crocin.Name)
	assert.Equal(t, "Paracetamol", crocin.Generic)
	assert.Equal(t, "tablet", crocin.Form)
	assert.Equal(t, "650mg", crocin.Strength)
	assert.Equal(t, "1-0-1", crocin.Frequency)
	assert.Equal(t, "650mg 1-0-1", crocin.Dosage)
	assert.Equal(t, "5 days", crocin.Duration)
	assert.Equal(t, "after food", crocin.Instructions)

	azi := p.Medicines[1]
	assert.Equal(t, "Azithral", azi.Name)
	assert.Equal(t, "Azithromycin", azi.Generic)
	assert.Equal(t, "capsule", azi.Form)
	assert.Equal(t, "OD", azi.Frequency)
	assert.Equal(t, "3 days", azi.Duration)

	pan := p.Medicines[2]
	assert.Equal(t, "Pantoprazole", pan.Generic)
	assert.Equal(t, "40mg", pan.Strength)
	assert.Equal(t, "before breakfast", pan.Instructions)

	assert.Equal(t, "Viral fever", p.Diagnosis)
	assert.False(t, p.DiagnosisInferred)
	assert.Equal(t, []string{"fever, body ache x 3 days"}, p.Complaints)
	assert.Equal(t, []string{"Drink plenty of fluids", "Take rest"}, p.Advice)
	assert.Equal(t, "after 5 days", p.FollowUp)
	require.NotNil(t, p.FollowUpDate)
	assert.Equal(t, time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), *p.FollowUpDate)

	assert.Contains(t, p.Uses, "Paracetamol: Reduces fever and relieves mild to moderate pain.")
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "Fever: ")
	assert.Contains(t, p.Remedies, "Drink plenty of fluids")
	assert.Empty(t, p.Unclassified)
}

func TestExtractInfersDiagnosisFromMedicines(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Tab Metformin 500mg BD",
		"Tab Glimepiride 1mg OD before breakfast",
		"Tab Amlodipine 5mg OD",
	})
	assert.Equal(t, "Diabetes", p.Diagnosis)
	assert.True(t, p.DiagnosisInferred)
	assert.NotEmpty(t, p.Remedies)
}

func TestExtractDiagnosisFromComplaints(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Complaints: sneezing and runny nose",
		"Tab Crocin 500mg SOS",
	})
	assert.Equal(t, "Allergy", p.Diagnosis)
	assert.True(t, p.DiagnosisInferred)
}

func TestExtractDosageOnLaterLine(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Tab Montair LC",
		"0-0-1 x 10 days",
		"at bedtime",
	})
	require.Len(t, p.Medicines, 1)
	m := p.Medicines[0]
	assert.Equal(t, "Montair LC", m.Name)
	assert.Equal(t, "Montelukast", m.Generic)
	assert.Equal(t, "0-0-1", m.Frequency)
	assert.Equal(t, "10 days", m.Duration)
	assert.Equal(t, "at bedtime", m.Instructions)
}

func TestExtractMergesDuplicates(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Tab Dolo 650",
		"Dolo 650 1-1-1 x 3 days",
	})
	require.Len(t, p.Medicines, 1)
	assert.Equal(t, "1-1-1", p.Medicines[0].Frequency)
	assert.Equal(t, "3 days", p.Medicines[0].Duration)
	assert.Equal(t, "tablet", p.Medicines[0].Form)
}

func TestExtractRepairsOCRDigits(t *testing.T) {
	p := newTestExtractor().Extract([]string{"Tab Paracetamol 5OOmg l-O-l"})
	require.Len(t, p.Medicines, 1)
	assert.Equal(t, "500mg", p.Medicines[0].Strength)
	assert.Equal(t, "1-0-1", p.Medicines[0].Frequency)
}

func TestExtractUnknownDrugNeedsFormOrStrength(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Zyxoprofen 250mg TDS",
		"Something unreadable here",
		"Syp Unknownol 5ml TDS",
	})
	require.Len(t, p.Medicines, 2)
	assert.Equal(t, "Zyxoprofen", p.Medicines[0].Name)
	assert.Equal(t, "TDS", p.Medicines[0].Frequency)
	assert.Equal(t, "syrup", p.Medicines[1].Form)
	assert.Equal(t, "5ml", p.Medicines[1].Strength)
	assert.Equal(t, []string{"Something unreadable here"}, p.Unclassified)
	assert.Empty(t, p.Diagnosis)
}

func TestExtractAdviceNotAttachedToMedicine(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Tab Crocin 650mg SOS",
		"Walk daily for 30 minutes",
		"Avoid oily food",
	})
	require.Len(t, p.Medicines, 1)
	assert.Empty(t, p.Medicines[0].Duration)
	assert.Equal(t, []string{"Walk daily for 30 minutes", "Avoid oily food"}, p.Advice)
}

func TestExtractIgnoresLetterhead(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Sunrise Clinic",
		"City Hospital, Pune",
		"Consultant: Dr. Mehta",
		"Contact: 9876543210",
		"Tab Crocin 650mg 1-0-1",
		"Tab Phexin 500 1-0-1 x 5 days",
	})
	require.Len(t, p.Medicines, 2)
	assert.Equal(t, "Crocin", p.Medicines[0].Name)
	assert.Equal(t, "5 days", p.Medicines[1].Duration)
	assert.Empty(t, p.Unclassified)
	assert.Empty(t, p.Advice)
}

func TestExtractKeepsSurplusDosageLine(t *testing.T) {
	p := newTestExtractor().Extract([]string{
		"Tab Dolo 650mg 1-0-1 x 5 days",
		"1-1-1 x 3 days",
	})
	require.Len(t, p.Medicines, 1)
	assert.Equal(t, "1-0-1", p.Medicines[0].Frequency)
	assert.Equal(t, "5 days", p.Medicines[0].Duration)
	assert.Equal(t, []string{"1-1-1 x 3 days"}, p.Unclassified)
}

func TestExtractEmpty(t *testing.T) {
	p := newTestExtractor().Extract(nil)
	assert.NotNil(t, p.Medicines)
	assert.NotNil(t, p.Advice)
	assert.Empty(t, p.Diagnosis)
	assert.Nil(t, p.FollowUpDate)
	assert.Equal(t, "", p.AdviceText())
}

func TestParseFrequency(t *testing.T) {
	cases := map[string]string{
		"1-0-1":              "1-0-1",
		"1 - 1 - 1":          "1-1-1",
		"1-0-0-1":            "1-0-0-1",
		"b.d.":               "BD",
		"t.d.s after food":   "TDS",
		"q8h":                "Q8H",
		"twice a day":        "twice a day",
		"Every 6 hours":      "every 6 hours",
		"three times daily":  "three times daily",
		"nothing to see":     "",
		"on 12-03-2025 only": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseFrequency(in), in)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]string{
		"x 5 days":   "5 days",
		"for 1 week": "1 week",
		"x5d":        "5 days",
		"for 2 m":    "2 months",
		"3 wks":      "3 weeks",
		"1 month":    "1 month",
		"daily":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseDuration(in), in)
	}
}
