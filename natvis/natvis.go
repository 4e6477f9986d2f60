// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package natvis generates debugger visualizer rules for raw hash tables.
//
// A rule is keyed by a generic type pattern and tells the debugger how to
// display an instance: a summary string and an expansion with the [len],
// [capacity] and [state] items followed by one item per occupied slot. The
// expansion loop is the same bounded scan that package inspect runs, written
// in the debugger's expression language against the field paths of a
// rawlayout.Layout.
package natvis

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ribbitbits/swissview/rawlayout"
)

// Namespace is the XML namespace of visualizer documents.
const Namespace = "http://schemas.microsoft.com/vstudio/debugger/natvis/2010"

// Rule is the visualizer of one type pattern.
type Rule struct {
	Name    string `xml:"Name,attr"`
	Display string `xml:"DisplayString"`
	Expand  Expand `xml:"Expand"`
}

// Pattern parses the rule's type pattern.
func (r Rule) Pattern() (Pattern, error) {
	return ParsePattern(r.Name)
}

// Expand lists the children shown when an instance is expanded.
type Expand struct {
	Items []Item      `xml:"Item"`
	List  *CustomList `xml:"CustomListItems,omitempty"`
}

// Item is a named child whose value is an expression.
type Item struct {
	Name string `xml:"Name,attr"`
	Expr string `xml:",chardata"`
}

// CustomList is a dynamically sized list of children produced by a loop.
type CustomList struct {
	Variables []Variable `xml:"Variable"`
	Size      string     `xml:"Size,omitempty"`
	Loop      Loop       `xml:"Loop"`
}

// Variable is a loop variable.
type Variable struct {
	Name         string `xml:"Name,attr"`
	InitialValue string `xml:"InitialValue,attr"`
}

// Loop repeats its steps until a Break step runs.
type Loop struct {
	Steps []Step `xml:",any"`
}

// Step is one statement of a loop: If, Exec, Break or Item. The element
// name selects the statement.
type Step struct {
	XMLName   xml.Name
	Name      string `xml:"Name,attr,omitempty"`
	Condition string `xml:"Condition,attr,omitempty"`
	Text      string `xml:",chardata"`
	Steps     []Step `xml:",any"`
}

// If runs steps when cond holds.
func If(cond string, steps ...Step) Step {
	return Step{XMLName: xml.Name{Local: "If"}, Condition: cond, Steps: steps}
}

// Exec evaluates expr for its side effect.
func Exec(expr string) Step {
	return Step{XMLName: xml.Name{Local: "Exec"}, Text: expr}
}

// Break leaves the loop.
func Break() Step {
	return Step{XMLName: xml.Name{Local: "Break"}}
}

// ItemStep emits one child of the list.
func ItemStep(name, expr string) Step {
	return Step{XMLName: xml.Name{Local: "Item"}, Name: name, Text: expr}
}

// FromLayout builds the rule for the tables described by l.
//
// The expansion walks the control bytes from slot 0 with n counting the
// entries still to be found. It stops once n reaches zero or i passes the
// last bucket. A slot whose control byte has the high bit clear is occupied
// and its entry is read at ctrl[-(i+1)] in units of the entry type.
func FromLayout(l rawlayout.Layout) Rule {
	items := l.Items.Path
	ctrl := l.Ctrl.Path
	entry := fmt.Sprintf("((%s*)%s)[-(i + 1)]", l.Entry.Type, ctrl)

	return Rule{
		Name:    l.Type,
		Display: fmt.Sprintf("len={%s}", items),
		Expand: Expand{
			Items: []Item{
				{Name: "[len]", Expr: items},
				{Name: "[capacity]", Expr: fmt.Sprintf("%s + %s", items, l.GrowthLeft.Path)},
				{Name: "[state]", Expr: l.State.Path},
			},
			List: &CustomList{
				Variables: []Variable{
					{Name: "i", InitialValue: "0"},
					{Name: "n", InitialValue: items},
				},
				Size: items,
				Loop: Loop{Steps: []Step{
					If(fmt.Sprintf("n == 0 || i > %s", l.BucketMask.Path), Break()),
					If(fmt.Sprintf("(%s[i] & 0x80) == 0", ctrl),
						Exec("n--"),
						ItemStep(
							fmt.Sprintf("{%s.%s}", entry, l.Entry.Key.Path),
							fmt.Sprintf("%s.%s", entry, l.Entry.Value.Path),
						),
					),
					Exec("i++"),
				}},
			},
		},
	}
}

type document struct {
	XMLName xml.Name `xml:"http://schemas.microsoft.com/vstudio/debugger/natvis/2010 AutoVisualizer"`
	Types   []Rule   `xml:"Type"`
}

// Render writes an AutoVisualizer document holding rules.
func Render(w io.Writer, rules ...Rule) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(document{Types: rules}); err != nil {
		return fmt.Errorf("natvis: render: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Parse reads the rules of an AutoVisualizer document.
func Parse(r io.Reader) ([]Rule, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("natvis: parse: %w", err)
	}
	for i := range doc.Types {
		if l := doc.Types[i].Expand.List; l != nil {
			normalize(l.Loop.Steps)
		}
	}
	return doc.Types, nil
}

// normalize drops the document namespace that decoding attaches to loop
// statements, and the indentation collected as text of statements with
// children, so that parsed rules compare equal to built ones.
func normalize(steps []Step) {
	for i := range steps {
		steps[i].XMLName.Space = ""
		steps[i].Text = strings.TrimSpace(steps[i].Text)
		normalize(steps[i].Steps)
	}
}

// Registry maps type names to rules.
type Registry struct {
	patterns []Pattern
	rules    []Rule
}

// NewRegistry returns a registry of rules. Lookups try rules in order.
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{}
	for _, rule := range rules {
		p, err := rule.Pattern()
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, p)
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// Lookup returns the first rule whose pattern matches typeName together with
// the bound type arguments. When no rule matches, ok is false and the type
// is shown without a visualizer.
func (r *Registry) Lookup(typeName string) (rule Rule, args []string, ok bool) {
	for i, p := range r.patterns {
		if bound, matched := p.Match(typeName); matched {
			return r.rules[i], bound, true
		}
	}
	return Rule{}, nil, false
}
