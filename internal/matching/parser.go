package matching

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

// matchesField is the wrapper key preferred when the model returns an object.
const matchesField = "matches"

// Match is one scored career as returned by the model.
type Match struct {
	CareerIndex int     `mapstructure:"careerIndex" json:"careerIndex"`
	Score       float64 `mapstructure:"score" json:"score"`
	Reasoning   string  `mapstructure:"reasoning" json:"reasoning"`
}

const elementSchemaJSON = `{
	"type": "object",
	"required": ["careerIndex", "score", "reasoning"],
	"properties": {
		"careerIndex": {"type": "integer"},
		"score": {"type": "number"},
		"reasoning": {"type": "string"}
	}
}`

var elementSchema = mustSchema(elementSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile match schema: %v", err))
	}
	return schema
}

// ParseMatches turns raw model output into match tuples. Any element that is
// not a well-formed tuple or points outside snap rejects the whole batch.
// Score range and ordering are not checked.
func ParseMatches(raw string, snap Snapshot) ([]Match, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedResponse)
	}

	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: not valid json: %v", ErrMalformedResponse, err)
	}

	elements, err := unwrapMatches(data)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(elements))
	for i, element := range elements {
		m, err := decodeMatch(element)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedResponse, i, err)
		}

		if _, ok := snap.At(m.CareerIndex); !ok {
			return nil, fmt.Errorf("%w: element %d: careerIndex %d out of range [0, %d)",
				ErrMalformedResponse, i, m.CareerIndex, snap.Len())
		}

		matches = append(matches, m)
	}

	return matches, nil
}

// unwrapMatches accepts a bare array or an object holding one.
func unwrapMatches(data any) ([]any, error) {
	switch val := data.(type) {
	case []any:
		return val, nil
	case map[string]any:
		if arr, ok := val[matchesField].([]any); ok {
			return arr, nil
		}

		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if arr, ok := val[k].([]any); ok {
				return arr, nil
			}
		}
		return nil, fmt.Errorf("%w: object without an array field", ErrMalformedResponse)
	default:
		return nil, fmt.Errorf("%w: expected array or object, got %T", ErrMalformedResponse, data)
	}
}

func decodeMatch(element any) (Match, error) {
	result, err := elementSchema.Validate(gojsonschema.NewGoLoader(element))
	if err != nil {
		return Match{}, err
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return Match{}, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	var m Match
	if err := mapstructure.Decode(element, &m); err != nil {
		return Match{}, err
	}

	return m, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
