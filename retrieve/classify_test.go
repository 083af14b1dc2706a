package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLabValue(t *testing.T) {
	tests := []struct {
		query   string
		keyword string
	}{
		{"What was my HDL in 2023?", "hdl"},
		{"Show my HDL cholesterol history", "hdl cholesterol"},
		{"how has my glucose changed", "glucose"},
		{"TSH trend please", "tsh"},
		{"blood pressure readings", "blood pressure"},
	}
	for _, tt := range tests {
		cls := Classify(tt.query, nil)
		assert.Equal(t, KindLabValue, cls.Kind, "query %q", tt.query)
		assert.Equal(t, tt.keyword, cls.Keyword, "query %q", tt.query)
	}
}

func TestClassifyLongestKeywordWins(t *testing.T) {
	cls := Classify("my hdl cholesterol result", nil)
	assert.Equal(t, "hdl cholesterol", cls.Keyword)
}

func TestClassifyDocumentScoped(t *testing.T) {
	docs := []string{"240304_lipid_panel.pdf", "discharge_summary.pdf"}

	cls := Classify("summarize discharge_summary for me", docs)
	assert.Equal(t, KindDocumentScoped, cls.Kind)
	assert.Equal(t, "discharge_summary.pdf", cls.DocumentName)
}

func TestClassifyLabValueTakesPrecedence(t *testing.T) {
	docs := []string{"240304_lipid_panel.pdf"}

	cls := Classify("what does 240304_lipid_panel say about glucose", docs)
	assert.Equal(t, KindLabValue, cls.Kind)
	assert.Equal(t, "glucose", cls.Keyword)
	assert.Equal(t, "240304_lipid_panel.pdf", cls.DocumentName, "doc boost still applies")
}

func TestClassifyGeneral(t *testing.T) {
	cls := Classify("am I healthy overall?", []string{"240304_lipid_panel.pdf"})
	assert.Equal(t, KindGeneral, cls.Kind)
	assert.Empty(t, cls.Keyword)
	assert.Empty(t, cls.DocumentName)
}
