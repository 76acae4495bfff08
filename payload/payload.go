// Package payload decodes the text carried by batch QR codes.
//
// Payload conventions are set by whoever prints the labels, so decoding is
// lenient: a JSON object, a key=value list and a bare batch id are tried in
// that order and the first shape that applies wins.
package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"example.com/backstage/services/provenance/domain"
)

// Shape names the input form a payload was decoded from
type Shape string

const (
	ShapeNone     Shape = ""
	ShapeJSON     Shape = "json"
	ShapeKeyValue Shape = "key_value"
	ShapeBareID   Shape = "bare_id"
)

// Payload is the structured content of a scanned code. Absent fields are empty.
type Payload struct {
	BatchID string `json:"batchId,omitempty"`
	Actor   string `json:"actor,omitempty"`
	Role    string `json:"role,omitempty"`
	Note    string `json:"note,omitempty"`
	Image   string `json:"image,omitempty"`
	Shape   Shape  `json:"shape,omitempty"`
}

// HasBatchID reports whether a batch id was extracted
func (p Payload) HasBatchID() bool {
	return p.BatchID != ""
}

// strategy returns ok=false when the text is not in its shape
type strategy struct {
	shape Shape
	parse func(text string) (Payload, bool)
}

var strategies = []strategy{
	{shape: ShapeJSON, parse: parseJSON},
	{shape: ShapeKeyValue, parse: parseKeyValue},
	{shape: ShapeBareID, parse: parseBareID},
}

var (
	bareIDPattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	entrySeparator = regexp.MustCompile(`[;,\n]+`)
)

// Parse decodes text. Unrecognized text yields an empty Payload, not an error.
func Parse(text string) Payload {
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}
	}

	for _, s := range strategies {
		if p, ok := s.parse(text); ok {
			p.Shape = s.shape
			return p
		}
	}
	return Payload{}
}

// ParseStrict is Parse for callers that need a batch id
func ParseStrict(text string) (Payload, error) {
	p := Parse(text)
	if !p.HasBatchID() {
		return p, fmt.Errorf("%w: no batch id found", domain.ErrMalformedPayload)
	}
	return p, nil
}

func parseJSON(text string) (Payload, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return Payload{}, false
	}

	p := Payload{
		Actor: stringValue(obj["actor"]),
		Role:  stringValue(obj["role"]),
		Note:  stringValue(obj["note"]),
		Image: stringValue(obj["image"]),
	}
	for _, key := range []string{"batchId", "batch", "id"} {
		if v := stringValue(obj[key]); v != "" {
			p.BatchID = v
			break
		}
	}
	return p, true
}

func parseKeyValue(text string) (Payload, bool) {
	if !strings.Contains(text, "=") {
		return Payload{}, false
	}

	var p Payload
	for _, entry := range entrySeparator.Split(text, -1) {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		switch {
		case strings.Contains(key, "batch"), key == "id":
			p.BatchID = value
		case key == "actor":
			p.Actor = value
		case key == "role":
			p.Role = value
		case key == "note":
			p.Note = value
		case key == "image", key == "img":
			p.Image = value
		}
	}
	return p, true
}

func parseBareID(text string) (Payload, bool) {
	if !bareIDPattern.MatchString(text) {
		return Payload{}, false
	}
	return Payload{BatchID: text}, true
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
