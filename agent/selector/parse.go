package selector

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/muchaco/council/types"
	"github.com/xeipuuv/gojsonschema"
)

// decisionSchema is the contract for the model's JSON object.
const decisionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["selectedPersonaId", "reasoning"],
  "properties": {
    "selectedPersonaId":   {"type": "string", "minLength": 1},
    "reasoning":           {"type": "string"},
    "isIntervention":      {"type": "boolean"},
    "interventionMessage": {"type": "string"},
    "driftDetected":       {"type": "boolean"},
    "blackboardUpdate": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "consensus": {"type": "string"},
        "conflicts": {"type": "string"},
        "nextStep":  {"type": "string"},
        "facts":     {"type": "string"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(decisionSchema)

// compiledSchema is built once; the schema is a constant so failure is a programming error.
var compiledSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		panic("selector: invalid decision schema: " + err.Error())
	}
	return s
}()

// ExtractObject returns the first balanced {...} in text. Braces inside
// JSON strings are ignored.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseDecision extracts, validates and decodes the decision in raw.
func ParseDecision(raw string) (Decision, error) {
	obj, ok := ExtractObject(raw)
	if !ok {
		return Decision{}, malformed("selector response contains no JSON object")
	}

	result, err := compiledSchema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return Decision{}, malformed("selector response is not valid JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Decision{}, malformed("selector response failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var w wireDecision
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Decision{}, malformed("decode selector response: %v", err)
	}
	d := w.toDecision()
	// 干预必须有可发布的内容
	if d.IsIntervention && strings.TrimSpace(d.InterventionMessage) == "" && strings.TrimSpace(d.Reasoning) == "" {
		return Decision{}, malformed("intervention has neither a message nor reasoning")
	}
	return d, nil
}

// CheckRoster fails with an UnknownPersona validation error when d selects
// a persona outside roster.
func CheckRoster(d Decision, roster []types.Persona) error {
	id, ok := d.SelectedPersona()
	if !ok {
		return nil
	}
	if _, found := types.FindPersona(roster, id); !found {
		return types.NewValidationError("selector chose persona %q which is not eligible to speak", id).
			WithCause(ErrUnknownPersona)
	}
	return nil
}
