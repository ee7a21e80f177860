package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthcare-mcp/internal/cache"
)

const (
	icd10BaseURL = "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search"

	// Code assignments change rarely; a long TTL is safe.
	icd10TTL = 30 * 24 * time.Hour
)

type ICDLookupInput struct {
	Code        string `json:"code,omitempty" jsonschema:"ICD-10 code to look up"`
	Description string `json:"description,omitempty" jsonschema:"condition description to search for"`
	MaxResults  int    `json:"max_results,omitempty" jsonschema:"maximum codes to return, 1-100"`
}

type ICDCode struct {
	Code               string `json:"code"`
	Description        string `json:"description"`
	Category           string `json:"category"`
	Chapter            string `json:"chapter,omitempty"`
	ChapterDescription string `json:"chapter_description,omitempty"`
}

type ICDLookupOutput struct {
	Status       string    `json:"status"`
	SearchTerm   string    `json:"search_term,omitempty"`
	TotalResults int       `json:"total_results"`
	Results      []ICDCode `json:"results"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// ICDLookup resolves ICD-10-CM codes through the NLM clinical tables
// search service.
type ICDLookup struct {
	deps    Dependencies
	baseURL string
	flight  singleflight.Group
}

func NewICDLookup(deps Dependencies) *ICDLookup {
	return &ICDLookup{deps: deps.withDefaults(), baseURL: icd10BaseURL}
}

func (t *ICDLookup) Name() string { return "lookup_icd_code" }

func (t *ICDLookup) Description() string {
	return "Look up ICD-10-CM codes by code or condition description"
}

func (t *ICDLookup) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input ICDLookupInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Lookup(ctx, input), nil
}

func (t *ICDLookup) Lookup(ctx context.Context, input ICDLookupInput) ICDLookupOutput {
	if input.Code == "" && input.Description == "" {
		return ICDLookupOutput{
			Status:       "error",
			ErrorMessage: "Either code or description must be provided",
			Results:      []ICDCode{},
		}
	}
	searchTerm := input.Code
	if searchTerm == "" {
		searchTerm = input.Description
	}
	maxResults := clampMax(input.MaxResults, 10)

	t.deps.recordUsage(t.Name())

	key := cache.Key("icd10", searchTerm, maxResults)
	var cached ICDLookupOutput
	if t.deps.Cache.Get(ctx, key, &cached) {
		return cached
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		params := url.Values{
			"terms":   {searchTerm},
			"maxList": {strconv.Itoa(maxResults)},
			"df":      {"code,name"},
		}

		// The service replies with a positional JSON array:
		// [count, codes, displayFields, displayStrings].
		var raw []json.RawMessage
		if err := t.deps.HTTP.GetJSON(ctx, t.baseURL, params, &raw); err != nil {
			return nil, err
		}

		codes := parseICDResponse(raw)
		out := ICDLookupOutput{
			Status:       "success",
			SearchTerm:   searchTerm,
			TotalResults: len(codes),
			Results:      codes,
		}
		t.deps.Cache.Set(ctx, key, out, icd10TTL)
		return out, nil
	})
	if err != nil {
		t.deps.Logger.Error("icd-10 lookup failed", zap.String("term", searchTerm), zap.Error(err))
		return ICDLookupOutput{
			Status:       "error",
			ErrorMessage: fmt.Sprintf("Error looking up ICD-10 code: %v", err),
			Results:      []ICDCode{},
		}
	}
	return v.(ICDLookupOutput)
}

func parseICDResponse(raw []json.RawMessage) []ICDCode {
	if len(raw) < 4 {
		return []ICDCode{}
	}
	var codeValues []string
	var displays [][]string
	if err := json.Unmarshal(raw[1], &codeValues); err != nil {
		return []ICDCode{}
	}
	if err := json.Unmarshal(raw[3], &displays); err != nil {
		return []ICDCode{}
	}

	codes := make([]ICDCode, 0, len(codeValues))
	for i, code := range codeValues {
		description := "No description"
		if i < len(displays) && len(displays[i]) > 1 {
			description = displays[i][1]
		}

		category := code
		if idx := strings.Index(code, "."); idx > 0 {
			category = code[:idx]
		} else if len(code) > 3 {
			category = code[:3]
		}

		info := ICDCode{Code: code, Description: description, Category: category}
		if chapter, chapterDesc, ok := icd10Chapter(category); ok {
			info.Chapter = chapter
			info.ChapterDescription = chapterDesc
		}
		codes = append(codes, info)
	}
	return codes
}

// icd10Chapter maps an ICD-10-CM category to its chapter. Letter ranges
// follow the ICD-10-CM tabular list; D and H split mid-range.
func icd10Chapter(category string) (number, description string, ok bool) {
	category = strings.ToUpper(category)
	if category == "" {
		return "", "", false
	}
	switch c := category[0]; {
	case c == 'A' || c == 'B':
		return "I", "Certain infectious and parasitic diseases", true
	case c == 'C':
		return "II", "Neoplasms", true
	case c == 'D':
		if category <= "D48" {
			return "II", "Neoplasms", true
		}
		return "III", "Diseases of the blood and blood-forming organs and certain disorders involving the immune mechanism", true
	case c == 'E':
		return "IV", "Endocrine, nutritional and metabolic diseases", true
	case c == 'F':
		return "V", "Mental and behavioral disorders", true
	case c == 'G':
		return "VI", "Diseases of the nervous system", true
	case c == 'H':
		if category <= "H59" {
			return "VII", "Diseases of the eye and adnexa", true
		}
		return "VIII", "Diseases of the ear and mastoid process", true
	case c == 'I':
		return "IX", "Diseases of the circulatory system", true
	case c == 'J':
		return "X", "Diseases of the respiratory system", true
	case c == 'K':
		return "XI", "Diseases of the digestive system", true
	case c == 'L':
		return "XII", "Diseases of the skin and subcutaneous tissue", true
	case c == 'M':
		return "XIII", "Diseases of the musculoskeletal system and connective tissue", true
	case c == 'N':
		return "XIV", "Diseases of the genitourinary system", true
	case c == 'O':
		return "XV", "Pregnancy, childbirth and the puerperium", true
	case c == 'P':
		return "XVI", "Certain conditions originating in the perinatal period", true
	case c == 'Q':
		return "XVII", "Congenital malformations, deformations and chromosomal abnormalities", true
	case c == 'R':
		return "XVIII", "Symptoms, signs and abnormal clinical and laboratory findings, not elsewhere classified", true
	case c == 'S' || c == 'T':
		return "XIX", "Injury, poisoning and certain other consequences of external causes", true
	case c >= 'V' && c <= 'Y':
		return "XX", "External causes of morbidity and mortality", true
	case c == 'Z':
		return "XXI", "Factors influencing health status and contact with health services", true
	}
	return "", "", false
}
