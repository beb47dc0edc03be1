package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Form field types
const (
	FieldTypeText          = "text"
	FieldTypeTextarea      = "textarea"
	FieldTypeSelect        = "select"
	FieldTypeDynamicSelect = "dynamic_select"
	FieldTypeFile          = "file"
	FieldTypeCheckbox      = "checkbox"
	FieldTypeRadio         = "radio"
)

// Field value sources
const (
	SourceProfile = "profile"
	SourceCached  = "cached"
	SourceAI      = "ai"
	SourceManual  = "manual"
)

// FormField is one extracted input on a target application form, together
// with its resolution result. RecommendedValue is immutable once the
// application snapshot is written; an override lands in FinalValue.
type FormField struct {
	FieldID          string   `json:"field_id"`
	Label            string   `json:"label"`
	FieldType        string   `json:"field_type"`
	Required         bool     `json:"required"`
	Options          []string `json:"options,omitempty"`
	RecommendedValue *string  `json:"recommended_value,omitempty"`
	FinalValue       *string  `json:"final_value,omitempty"`
	Reasoning        *string  `json:"reasoning,omitempty"`
	Source           string   `json:"source"`
	Confidence       float64  `json:"confidence"`
	Editable         bool     `json:"editable"`
}

// EffectiveValue returns the value that submission should use: the override
// if one was applied, otherwise the recommendation.
func (f *FormField) EffectiveValue() string {
	if f.FinalValue != nil {
		return *f.FinalValue
	}
	if f.RecommendedValue != nil {
		return *f.RecommendedValue
	}
	return ""
}

// IsChoice reports whether the field is a choice-type control.
func (f *FormField) IsChoice() bool {
	switch f.FieldType {
	case FieldTypeSelect, FieldTypeDynamicSelect, FieldTypeRadio:
		return true
	}
	return false
}

// FieldList is a JSONB-backed ordered sequence of form fields.
type FieldList []FormField

// Value implements driver.Valuer for JSONB storage.
func (l FieldList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage.
func (l *FieldList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into FieldList", src)
	}
	return json.Unmarshal(data, l)
}

// NormalizeLabel reduces a field label to a stable key usable across
// differently-rendered forms: lowercased, punctuation stripped, whitespace
// collapsed to single underscores. "First Name *" and "first_name" both map
// to "first_name".
func NormalizeLabel(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(label) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
