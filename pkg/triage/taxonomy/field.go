package taxonomy

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/triage/pkg/triage/choices"
)

// Role is the taxonomy level a form field feeds.
type Role int

const (
	RoleNone Role = iota
	RoleCategory
	RoleSubCategory
	RoleItemCategory
)

func (r Role) String() string {
	switch r {
	case RoleCategory:
		return "category"
	case RoleSubCategory:
		return "sub_category"
	case RoleItemCategory:
		return "item_category"
	default:
		return "none"
	}
}

// Field is one ticket form field descriptor. Choices holds the raw choice
// payload exactly as the API returned it.
type Field struct {
	Name    string
	Label   string
	Choices choices.Node
}

// Role maps the field name, or its label when the name is blank, to a
// taxonomy level.
func (f Field) Role() Role {
	name := normalizeName(f.Name)
	if name == "" {
		name = normalizeName(f.Label)
	}
	switch name {
	case "category":
		return RoleCategory
	case "sub_category", "subcategory":
		return RoleSubCategory
	case "item_category", "itemcategory", "sub_sub_category", "subsubcategory":
		return RoleItemCategory
	}
	return RoleNone
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

type rawField struct {
	Name          choices.Node `json:"name" yaml:"name"`
	Label         choices.Node `json:"label" yaml:"label"`
	Choices       choices.Node `json:"choices" yaml:"choices"`
	NestedOptions choices.Node `json:"nested_options" yaml:"nested_options"`
}

func (r rawField) field() Field {
	payload := r.Choices
	if isEmpty(payload) {
		payload = r.NestedOptions
	}
	return Field{Name: scalarText(r.Name), Label: scalarText(r.Label), Choices: payload}
}

// scalarText is the text of a scalar node and empty for anything else, so a
// descriptor with a list or object for its name simply matches no role.
func scalarText(n choices.Node) string {
	if n.Kind != choices.KindScalar {
		return ""
	}
	return n.Text
}

func isEmpty(n choices.Node) bool {
	switch n.Kind {
	case choices.KindNull:
		return true
	case choices.KindScalar:
		return strings.TrimSpace(n.Text) == ""
	case choices.KindSequence:
		return len(n.Items) == 0
	case choices.KindMapping:
		return len(n.Pairs) == 0
	}
	return true
}

// UnmarshalJSON reads a form field, taking the payload from "choices" and
// falling back to "nested_options" when choices is empty. Anything other
// than an object decodes to a zero Field, which the builder ignores.
func (f *Field) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		*f = Field{}
		return nil
	}
	var raw rawField
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = raw.field()
	return nil
}

// UnmarshalYAML reads a form field from a fixture file. Non-mapping nodes
// decode to a zero Field, as in UnmarshalJSON.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		*f = Field{}
		return nil
	}
	var raw rawField
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*f = raw.field()
	return nil
}
