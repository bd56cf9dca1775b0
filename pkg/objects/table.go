// Package objects defines the table of CRM object types to export.
package objects

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec names one object type and the collection endpoint serving it.
type Spec struct {
	// Name is the object type and the base name of its CSV file.
	Name string `yaml:"name"`

	// Endpoint is the path relative to the API host, e.g. crm/v3/objects/contacts.
	Endpoint string `yaml:"endpoint"`
}

// Table is an ordered, validated list of object specs. The zero Table is empty.
type Table struct {
	specs []Spec
}

// ErrUnknownObject is returned by Select for names not in the table.
var ErrUnknownObject = errors.New("unknown object")

// New validates specs and returns them as a table. Names must be unique and
// usable as file names; endpoints must be non-empty.
func New(specs ...Spec) (Table, error) {
	seen := make(map[string]struct{}, len(specs))
	out := make([]Spec, 0, len(specs))

	for i, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		s.Endpoint = strings.Trim(strings.TrimSpace(s.Endpoint), "/")

		if err := validName(s.Name); err != nil {
			return Table{}, fmt.Errorf("object %d: %w", i, err)
		}
		if s.Endpoint == "" {
			return Table{}, fmt.Errorf("object %q: endpoint is required", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return Table{}, fmt.Errorf("object %q: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}

	return Table{specs: out}, nil
}

func validName(name string) error {
	switch {
	case name == "":
		return errors.New("name is required")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is not a valid file name", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	return nil
}

// Specs returns a copy of the table's entries in order.
func (t Table) Specs() []Spec {
	return append([]Spec(nil), t.specs...)
}

// Len returns the number of entries.
func (t Table) Len() int {
	return len(t.specs)
}

// Names returns the object names in order.
func (t Table) Names() []string {
	names := make([]string, len(t.specs))
	for i, s := range t.specs {
		names[i] = s.Name
	}
	return names
}

// Select returns the entries named in names, keeping table order.
// An empty names list selects everything.
func (t Table) Select(names []string) (Table, error) {
	if len(names) == 0 {
		return t, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = false
	}

	var out []Spec
	for _, s := range t.specs {
		if _, ok := want[s.Name]; ok {
			want[s.Name] = true
			out = append(out, s)
		}
	}

	var missing []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !want[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownObject, strings.Join(missing, ", "))
	}

	return Table{specs: out}, nil
}

// Default returns the built-in object table. Types that commonly need extra
// scopes (orders, partner_clients, commerce_payments, tickets,
// feedback_submissions) are left out; add them through an objects file.
func Default() Table {
	names := []string{
		"carts",
		"companies",
		"contacts",
		"deals",
		"discounts",
		"fees",
		"goal_targets",
		"invoices",
		"line_items",
		"products",
		"quotes",
		"taxes",
		"calls",
		"emails",
		"meetings",
		"notes",
		"tasks",
		"communications",
		"postal_mail",
	}

	specs := make([]Spec, len(names))
	for i, n := range names {
		specs[i] = Spec{Name: n, Endpoint: "crm/v3/objects/" + n}
	}
	return Table{specs: specs}
}

type file struct {
	Objects []Spec `yaml:"objects"`
}

// LoadFile reads a YAML object table:
//
//	objects:
//	  - name: contacts
//	    endpoint: crm/v3/objects/contacts
//
// An entry without endpoint defaults to crm/v3/objects/<name>.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read objects file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Table{}, fmt.Errorf("parse objects file %s: %w", path, err)
	}
	if len(f.Objects) == 0 {
		return Table{}, fmt.Errorf("objects file %s lists no objects", path)
	}

	for i := range f.Objects {
		if strings.TrimSpace(f.Objects[i].Endpoint) == "" && strings.TrimSpace(f.Objects[i].Name) != "" {
			f.Objects[i].Endpoint = "crm/v3/objects/" + strings.TrimSpace(f.Objects[i].Name)
		}
	}

	table, err := New(f.Objects...)
	if err != nil {
		return Table{}, fmt.Errorf("objects file %s: %w", path, err)
	}
	return table, nil
}
