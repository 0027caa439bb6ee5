package taxonomy

import (
	"encoding/json"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/triage/pkg/triage/choices"
)

func mustNode(t *testing.T, src string) choices.Node {
	t.Helper()
	n, err := choices.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse node: %v", err)
	}
	return n
}

func decodeFields(t *testing.T, src string) []Field {
	t.Helper()
	var fields []Field
	if err := json.Unmarshal([]byte(src), &fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	return fields
}

func entryLabels(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Label
	}
	return out
}

func TestBuildPreservesHierarchy(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": [
			{"value": "software", "label": "Software"},
			{"value": "hardware", "label": "Hardware"}
		]},
		{"name": "sub_category", "choices": {
			"software": [
				{"value": "adobe_suite", "label": "Adobe"},
				{"value": "vpn", "label": "VPN"}
			],
			"hardware": [{"value": "laptop", "label": "Laptop"}]
		}},
		{"name": "item_category", "choices": {
			"software": {"adobe_suite": [{"value": "acrobat", "label": "Acrobat"}]}
		}}
	]`)

	tax := Build(fields)

	if got := entryLabels(tax.Categories()); !reflect.DeepEqual(got, []string{"Software", "Hardware"}) {
		t.Fatalf("categories = %v", got)
	}
	if got := entryLabels(tax.SubCategories("Software")); !reflect.DeepEqual(got, []string{"Adobe", "VPN"}) {
		t.Errorf("Software subs = %v", got)
	}
	if got := entryLabels(tax.SubCategories("Hardware")); !reflect.DeepEqual(got, []string{"Laptop"}) {
		t.Errorf("Hardware subs = %v", got)
	}
	if got := entryLabels(tax.Items(Key{"Software", "Adobe"})); !reflect.DeepEqual(got, []string{"Acrobat"}) {
		t.Errorf("Software/Adobe items = %v", got)
	}
	if len(tax.SubCategories("software")) != 0 {
		t.Error("raw key should not surface as a bucket")
	}
}

func TestBuildResolvesByLabelCaseInsensitive(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": ["Password Reset"]},
		{"name": "sub_category", "choices": {"password reset": ["Account Support"]}},
		{"name": "item_category", "choices": {"PASSWORD RESET": {"account support": ["VPN Access"]}}}
	]`)

	tax := Build(fields)

	if got := entryLabels(tax.SubCategories("Password Reset")); !reflect.DeepEqual(got, []string{"Account Support"}) {
		t.Fatalf("subs = %v", got)
	}
	items := tax.Items(Key{"Password Reset", "Account Support"})
	if len(items) != 1 || items[0].Label != "VPN Access" {
		t.Fatalf("items = %+v", items)
	}
	if !reflect.DeepEqual(items[0].Tokens, []string{"access"}) {
		t.Errorf("tokens = %v, want [access]", items[0].Tokens)
	}
}

func TestBuildUnresolvedKeyKeptVerbatim(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": ["Hardware"]},
		{"name": "sub_category", "choices": {"legacy_cat": ["Fax"]}}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.SubCategories("legacy_cat")); !reflect.DeepEqual(got, []string{"Fax"}) {
		t.Fatalf("verbatim bucket = %v", got)
	}
}

func TestBuildNonMappingPayloads(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "Sub-Category", "choices": ["Email", "Printer"]},
		{"name": "itemcategory", "choices": ["Toner"]}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.SubCategories("")); !reflect.DeepEqual(got, []string{"Email", "Printer"}) {
		t.Errorf("parentless subs = %v", got)
	}
	if got := entryLabels(tax.Items(Key{})); !reflect.DeepEqual(got, []string{"Toner"}) {
		t.Errorf("parentless items = %v", got)
	}
	if len(tax.Categories()) != 0 {
		t.Errorf("categories = %v", tax.Categories())
	}
}

func TestBuildOneLevelItemMapping(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "sub_category", "choices": [{"value": "adobe_suite", "label": "Adobe"}]},
		{"name": "item_category", "choices": {"adobe_suite": ["Acrobat"]}}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.Items(Key{SubCategory: "Adobe"})); !reflect.DeepEqual(got, []string{"Acrobat"}) {
		t.Fatalf("items = %v", got)
	}
}

func TestBuildAmbiguousItemKeyFallsBackToSubCategory(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": [{"value": "software", "label": "Software"}]},
		{"name": "sub_category", "choices": {"software": [{"value": "adobe_suite", "label": "Adobe"}]}},
		{"name": "item_category", "choices": {"adobe_suite": {"x": ["Acrobat"]}}}
	]`)

	tax := Build(fields)
	buckets := tax.ItemBuckets()
	if len(buckets) != 1 {
		t.Fatalf("buckets = %+v", buckets)
	}
	if buckets[0].Key != (Key{SubCategory: "Adobe"}) {
		t.Errorf("key = %+v, want sub-category Adobe with empty category", buckets[0].Key)
	}
}

func TestBuildNestedCategoryTree(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": [{
			"value": "software", "label": "Software",
			"nested_options": [{
				"value": "adobe_suite", "label": "Adobe",
				"nested_options": [{"value": "acrobat", "label": "Acrobat"}]
			}]
		}]}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.Categories()); !reflect.DeepEqual(got, []string{"Software"}) {
		t.Fatalf("categories = %v", got)
	}
	if got := entryLabels(tax.SubCategories("Software")); !reflect.DeepEqual(got, []string{"Adobe"}) {
		t.Errorf("subs = %v", got)
	}
	if got := entryLabels(tax.Items(Key{"Software", "Adobe"})); !reflect.DeepEqual(got, []string{"Acrobat"}) {
		t.Errorf("items = %v", got)
	}
}

func TestBuildParentValueLists(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": [
			{"value": "software", "label": "Software"},
			{"value": "remote_access", "label": "Remote Access"}
		]},
		{"name": "subcategory", "choices": [
			{"value": "adobe_suite", "label": "Adobe", "parent_value": "software"},
			{"value": "vpn_cato", "label": "VPN (CATO)", "parent_value": "remote_access"}
		]},
		{"name": "item_category", "choices": [
			{"value": "acrobat", "label": "Acrobat", "parent_value": "adobe_suite"}
		]}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.SubCategories("Software")); !reflect.DeepEqual(got, []string{"Adobe"}) {
		t.Errorf("Software subs = %v", got)
	}
	if got := entryLabels(tax.SubCategories("Remote Access")); !reflect.DeepEqual(got, []string{"VPN (CATO)"}) {
		t.Errorf("Remote Access subs = %v", got)
	}
	if got := entryLabels(tax.Items(Key{Category: "Software", SubCategory: "Adobe"})); !reflect.DeepEqual(got, []string{"Acrobat"}) {
		t.Errorf("items = %v", got)
	}
	if got := tax.Items(Key{SubCategory: "Adobe"}); len(got) != 0 {
		t.Errorf("items left without a category: %v", got)
	}
}

func TestBuildItemParentByLabel(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": ["Hardware"]},
		{"name": "sub_category", "choices": {"Hardware": ["Printer"]}},
		{"name": "item_category", "choices": [
			{"label": "Toner", "parent_label": "printer"},
			{"label": "Loose", "parent_label": "Unknown"}
		]}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.Items(Key{Category: "Hardware", SubCategory: "Printer"})); !reflect.DeepEqual(got, []string{"Toner"}) {
		t.Errorf("printer items = %v", got)
	}
	if got := entryLabels(tax.Items(Key{SubCategory: "Unknown"})); !reflect.DeepEqual(got, []string{"Loose"}) {
		t.Errorf("unknown items = %v", got)
	}
}

func TestBuildSameLabelUnderDifferentParents(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": [
			{"value": "hardware", "label": "Hardware"},
			{"value": "software", "label": "Software"}
		]},
		{"name": "sub_category", "choices": [
			{"value": "hw_other", "label": "Other", "parent_value": "hardware"},
			{"value": "sw_other", "label": "Other", "parent_value": "software"},
			{"label": "Other", "parent_value": "hardware"}
		]},
		{"name": "item_category", "choices": [
			{"label": "Misc", "parent_value": "hw_other"},
			{"label": "Misc", "parent_value": "sw_other"}
		]}
	]`)

	tax := Build(fields)
	for _, cat := range []string{"Hardware", "Software"} {
		if got := entryLabels(tax.SubCategories(cat)); !reflect.DeepEqual(got, []string{"Other"}) {
			t.Errorf("%s subs = %v", cat, got)
		}
		if got := entryLabels(tax.Items(Key{Category: cat, SubCategory: "Other"})); !reflect.DeepEqual(got, []string{"Misc"}) {
			t.Errorf("%s/Other items = %v", cat, got)
		}
	}
}

func TestBuildBucketDedupAcrossSources(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": ["Hardware", "Hardware", "Software"]},
		{"name": "category", "choices": ["Software", "Network"]},
		{"name": "sub_category", "choices": {"Hardware": ["Laptop", "Laptop"]}},
		{"name": "sub_category", "choices": {"hardware": ["Laptop", "Monitor"]}}
	]`)

	tax := Build(fields)
	if got := entryLabels(tax.Categories()); !reflect.DeepEqual(got, []string{"Hardware", "Software", "Network"}) {
		t.Errorf("categories = %v", got)
	}
	if got := entryLabels(tax.SubCategories("Hardware")); !reflect.DeepEqual(got, []string{"Laptop", "Monitor"}) {
		t.Errorf("subs = %v", got)
	}
	if len(tax.SubCategoryBuckets()) != 1 {
		t.Errorf("buckets = %+v", tax.SubCategoryBuckets())
	}
}

func TestBuildIgnoresUnknownAndEmptyFields(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "priority", "choices": ["High", "Low"]},
		{"name": "category"},
		{"name": "sub_category", "choices": null},
		{"name": "item_category", "choices": "  "}
	]`)

	tax := Build(fields)
	s := tax.Stats()
	if s != (Stats{}) {
		t.Fatalf("stats = %+v, want empty", s)
	}
}

func TestBuildLabelMinLength(t *testing.T) {
	fields := []Field{{Name: "category", Choices: mustNode(t, `["VPN Access"]`)}}

	if got := Build(fields).Categories()[0].Tokens; !reflect.DeepEqual(got, []string{"access"}) {
		t.Errorf("default tokens = %v", got)
	}
	if got := Build(fields, WithLabelMinLength(3)).Categories()[0].Tokens; !reflect.DeepEqual(got, []string{"vpn", "access"}) {
		t.Errorf("min 3 tokens = %v", got)
	}
}

func TestFieldRoleAndFallbacks(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "", "label": "Category", "choices": [], "nested_options": ["A1"]},
		{"name": "sub_sub_category"},
		{"name": "Item Category"},
		{"name": "status"}
	]`)

	wantRoles := []Role{RoleCategory, RoleItemCategory, RoleItemCategory, RoleNone}
	for i, f := range fields {
		if f.Role() != wantRoles[i] {
			t.Errorf("field %d role = %v, want %v", i, f.Role(), wantRoles[i])
		}
	}
	if len(fields[0].Choices.Items) != 1 {
		t.Errorf("nested_options fallback not applied: %+v", fields[0].Choices)
	}
}

func TestFieldMalformedDescriptorIsSkipped(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": 7, "choices": ["Ignored"]},
		{"name": ["category"], "label": {"text": "Category"}, "choices": ["Ignored"]},
		"not a field",
		{"name": "category", "choices": ["Hardware"]}
	]`)
	if len(fields) != 4 {
		t.Fatalf("decoded %d fields, want 4", len(fields))
	}
	for i, f := range fields[:3] {
		if f.Role() != RoleNone {
			t.Errorf("field %d role = %v, want none", i, f.Role())
		}
	}
	if got := entryLabels(Build(fields).Categories()); !reflect.DeepEqual(got, []string{"Hardware"}) {
		t.Fatalf("categories = %v", got)
	}

	var fromYAML []Field
	if err := yaml.Unmarshal([]byte(`- just text
- name: [a, b]
- name: category
  choices: [Network]
`), &fromYAML); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if got := entryLabels(Build(fromYAML).Categories()); !reflect.DeepEqual(got, []string{"Network"}) {
		t.Fatalf("yaml categories = %v", got)
	}
}

func TestFieldUnmarshalYAML(t *testing.T) {
	src := `
- name: category
  choices: [Hardware, Software]
- name: sub_category
  nested_options:
    Hardware: [Laptop]
`
	var fields []Field
	if err := yaml.Unmarshal([]byte(src), &fields); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	tax := Build(fields)
	if got := entryLabels(tax.SubCategories("Hardware")); !reflect.DeepEqual(got, []string{"Laptop"}) {
		t.Fatalf("subs = %v", got)
	}
}

func TestLines(t *testing.T) {
	fields := decodeFields(t, `[
		{"name": "category", "choices": ["Hardware", "Software"]},
		{"name": "sub_category", "choices": {"Hardware": ["Laptop"], "Legacy": ["Fax"]}},
		{"name": "item_category", "choices": {"Hardware": {"Laptop": ["Battery"]}, "Loose": ["Cable"]}}
	]`)

	got := Build(fields).Lines()
	want := []string{
		"- Hardware",
		"-- Laptop",
		"--- Battery",
		"- Software",
		"- Legacy",
		"-- Fax",
		"- (unassigned)",
		"-- Loose",
		"--- Cable",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lines =\n%v\nwant\n%v", got, want)
	}
}
