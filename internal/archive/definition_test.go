package archive

import (
	"strings"
	"testing"
)

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(testDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Title != "Report Builder" || def.Trigger != "weekly report" {
		t.Fatalf("front-matter misparsed: %+v", def)
	}
	if len(def.Steps) != 2 || def.Steps[0] != "Load the export." {
		t.Fatalf("steps misparsed: %v", def.Steps)
	}
}

func TestParseDefinitionCRLF(t *testing.T) {
	crlf := strings.ReplaceAll(testDefinition, "\n", "\r\n")
	def, err := ParseDefinition([]byte(crlf))
	if err != nil {
		t.Fatalf("parse CRLF: %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("steps misparsed under CRLF: %v", def.Steps)
	}
}

func TestParseDefinitionStepFormats(t *testing.T) {
	doc := "---\ntitle: T\ndescription: D\n---\n" +
		"Intro prose.\n" +
		"1. First\n" +
		"  2) Second indented\n" +
		"not a step 3. here\n" +
		"10. Tenth\n"
	def, err := ParseDefinition([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"First", "Second indented", "Tenth"}
	if len(def.Steps) != len(want) {
		t.Fatalf("got steps %v, want %v", def.Steps, want)
	}
	for i := range want {
		if def.Steps[i] != want[i] {
			t.Fatalf("step %d: got %q, want %q", i, def.Steps[i], want[i])
		}
	}
}

func TestParseDefinitionErrors(t *testing.T) {
	cases := map[string]string{
		"no front-matter":  "# Title\nbody\n",
		"unterminated":     "---\ntitle: T\ndescription: D\n",
		"missing title":    "---\ndescription: D\n---\nbody\n",
		"missing desc":     "---\ntitle: T\n---\nbody\n",
		"bad yaml":         "---\ntitle: [\n---\nbody\n",
	}
	for name, doc := range cases {
		if _, err := ParseDefinition([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
