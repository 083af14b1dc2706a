package retrieve

import (
	"path/filepath"
	"strings"
)

// QueryKind selects the retrieval strategy for a question.
type QueryKind string

const (
	// KindLabValue: the question asks about a known lab/test value, so
	// retrieval switches to exhaustive keyword mode to recover the full
	// history across years.
	KindLabValue QueryKind = "lab-value"
	// KindDocumentScoped: the question names a specific uploaded file.
	KindDocumentScoped QueryKind = "document-scoped"
	KindGeneral        QueryKind = "general"
)

// Classification is the tagged result of query analysis. Keyword and
// DocumentName stay populated independently of Kind so the ranker can
// apply every boost that matches.
type Classification struct {
	Kind         QueryKind
	Keyword      string
	DocumentName string
}

// labKeywords is the test-value vocabulary. Longest-first so "hdl
// cholesterol" wins over "hdl".
var labKeywords = []string{
	"hdl cholesterol",
	"ldl cholesterol",
	"total cholesterol",
	"non-hdl",
	"cholesterol",
	"triglycerides",
	"hdl",
	"ldl",
	"glucose",
	"hba1c",
	"haemoglobin",
	"hemoglobin",
	"creatinine",
	"vitamin d",
	"vitamin b12",
	"ferritin",
	"tsh",
	"alt",
	"ast",
	"egfr",
	"psa",
	"urea",
	"bilirubin",
	"albumin",
	"platelets",
	"blood pressure",
}

// Classify inspects the question against the lab vocabulary and the
// known document names. Lab-value takes precedence for strategy
// selection since exhaustive mode subsumes document scoping.
func Classify(query string, docNames []string) Classification {
	q := strings.ToLower(query)

	cls := Classification{Kind: KindGeneral}

	for _, kw := range labKeywords {
		if strings.Contains(q, kw) {
			cls.Keyword = kw
			break
		}
	}

	for _, name := range docNames {
		base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		if base == "" {
			continue
		}
		if strings.Contains(q, base) || strings.Contains(base, q) {
			cls.DocumentName = name
			break
		}
	}

	switch {
	case cls.Keyword != "":
		cls.Kind = KindLabValue
	case cls.DocumentName != "":
		cls.Kind = KindDocumentScoped
	}
	return cls
}
