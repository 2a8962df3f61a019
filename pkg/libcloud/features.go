package libcloud

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FeatureType is the declared type of a content type feature.
type FeatureType int

// Feature types. The numeric values are persisted.
const (
	FeatureNumber  FeatureType = 1
	FeatureString  FeatureType = 2
	FeatureBoolean FeatureType = 3
)

// FeatureTypes lists the selectable feature types in display order.
var FeatureTypes = []FeatureType{FeatureNumber, FeatureString, FeatureBoolean}

// IsValid reports whether t is a known feature type.
func (t FeatureType) IsValid() bool {
	switch t {
	case FeatureNumber, FeatureString, FeatureBoolean:
		return true
	}
	return false
}

func (t FeatureType) String() string {
	switch t {
	case FeatureNumber:
		return "Number"
	case FeatureString:
		return "String"
	case FeatureBoolean:
		return "Boolean"
	}
	return fmt.Sprintf("FeatureType(%d)", int(t))
}

// ParseFeatureType accepts the numeric value or the case-insensitive name.
func ParseFeatureType(s string) (FeatureType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if t := FeatureType(n); t.IsValid() {
			return t, nil
		}
	}
	for _, t := range FeatureTypes {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("Select a valid choice. %s is not one of the available choices.", s)
}

// Boolean feature choices as posted by the form.
const (
	BooleanUnset = ""
	BooleanTrue  = "1"
	BooleanFalse = "2"
)

// Choice is an option of a select widget.
type Choice struct {
	Value string
	Label string
}

// Widget describes the input rendered for a feature value.
type Widget struct {
	Input     string // "number", "text" or "select"
	Required  bool
	MaxLength int
	Choices   []Choice
}

// Widget picks the input for the feature's declared type.
func (f *ContentTypeFeature) Widget() Widget {
	switch f.Type {
	case FeatureNumber:
		return Widget{Input: "number", Required: f.Required}
	case FeatureBoolean:
		return Widget{Input: "select", Required: f.Required, Choices: []Choice{
			{Value: BooleanUnset, Label: "----"},
			{Value: BooleanTrue, Label: "True"},
			{Value: BooleanFalse, Label: "False"},
		}}
	default:
		return Widget{Input: "text", Required: f.Required, MaxLength: MaxStringFeatureLength}
	}
}

// Clean validates a submitted value for the feature. The returned value is
// the string stored in ContentFeature.Value; it is empty only when the
// feature is optional and nothing was submitted.
func (f *ContentTypeFeature) Clean(raw string) (string, error) {
	return CleanFeatureValue(f.Type, f.Required, raw)
}

var numberLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// CleanFeatureValue validates raw against the feature type and coerces it to
// its stored string form.
func CleanFeatureValue(t FeatureType, required bool, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return "", errors.New(MsgRequired)
		}
		return "", nil
	}

	switch t {
	case FeatureNumber:
		f, err := ParseNumber(raw)
		if err != nil {
			return "", err
		}
		return FormatNumber(f), nil

	case FeatureString:
		if n := utf8.RuneCountInString(raw); n > MaxStringFeatureLength {
			return "", fmt.Errorf("Ensure this value has at most %d characters (it has %d).", MaxStringFeatureLength, n)
		}
		return raw, nil

	case FeatureBoolean:
		switch strings.ToLower(raw) {
		case BooleanTrue, "true":
			return "true", nil
		case BooleanFalse, "false":
			return "false", nil
		}
		return "", fmt.Errorf("Select a valid choice. %s is not one of the available choices.", raw)
	}

	return "", fmt.Errorf("unknown feature type %d", int(t))
}

// ParseNumber parses a finite decimal floating-point literal.
func ParseNumber(s string) (float64, error) {
	if !numberLiteral.MatchString(s) {
		return 0, errors.New(MsgInvalidNumber)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.New(MsgInvalidNumber)
	}
	return f, nil
}

// FormatNumber renders f in the shortest form that parses back to f.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// DisplayValue renders a stored value for humans.
func (f *ContentTypeFeature) DisplayValue(stored string) string {
	if f.Type == FeatureBoolean {
		switch stored {
		case "true":
			return "True"
		case "false":
			return "False"
		}
	}
	return stored
}

// FormValue maps a stored value back to what the form input expects.
func (f *ContentTypeFeature) FormValue(stored string) string {
	if f.Type == FeatureBoolean {
		switch stored {
		case "true":
			return BooleanTrue
		case "false":
			return BooleanFalse
		}
	}
	return stored
}

// FeatureDeclaration is a feature row submitted with a new content type.
type FeatureDeclaration struct {
	Name     string
	Type     string
	Required bool
}

// validate checks a declaration and returns the parsed type.
func (d FeatureDeclaration) validate(verr *ValidationError, field string) FeatureType {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		verr.Add(field+".name", MsgRequired)
	} else if n := utf8.RuneCountInString(name); n > MaxFeatureNameLength {
		verr.Add(field+".name", fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", MaxFeatureNameLength, n))
	}
	if strings.TrimSpace(d.Type) == "" {
		verr.Add(field+".type", MsgRequired)
		return 0
	}
	t, err := ParseFeatureType(d.Type)
	if err != nil {
		verr.Add(field+".type", err.Error())
	}
	return t
}

// isBlank reports whether the row was left empty (the spare form row).
func (d FeatureDeclaration) isBlank() bool {
	return strings.TrimSpace(d.Name) == "" && strings.TrimSpace(d.Type) == ""
}
