package flow

import "gopkg.in/yaml.v3"

// Selector represents element selection criteria.
// Pure data structure - executor decides how to match it.
type Selector struct {
	Text  string `yaml:"text"`  // Regex or literal matched against text and accessibility label
	ID    string `yaml:"id"`    // Regex or literal matched against resource/accessibility ID
	Index string `yaml:"index"` // Which match to use (string for variable support)

	// State filters
	Enabled  *bool `yaml:"enabled"`
	Checked  *bool `yaml:"checked"`
	Focused  *bool `yaml:"focused"`
	Selected *bool `yaml:"selected"`

	// Relative selectors
	ChildOf *Selector `yaml:"childOf"`
	Below   *Selector `yaml:"below"`
	Above   *Selector `yaml:"above"`
	LeftOf  *Selector `yaml:"leftOf"`
	RightOf *Selector `yaml:"rightOf"`
}

// selectorFields mirrors Selector without the custom unmarshaler.
type selectorFields Selector

// UnmarshalYAML accepts a plain string (text shorthand) or a mapping.
// "element" is accepted as an alias for text.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Text = node.Value
		return nil
	}

	var fields selectorFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*s = Selector(fields)
	if s.Text == "" {
		var alias struct {
			Element string `yaml:"element"`
		}
		if err := node.Decode(&alias); err != nil {
			return err
		}
		s.Text = alias.Element
	}
	return nil
}

// IsEmpty returns true if no selector properties are set.
func (s *Selector) IsEmpty() bool {
	return s.Text == "" && s.ID == "" && !s.HasRelativeSelector()
}

// HasRelativeSelector returns true if any relative selector is set.
func (s *Selector) HasRelativeSelector() bool {
	return s.ChildOf != nil || s.Below != nil || s.Above != nil ||
		s.LeftOf != nil || s.RightOf != nil
}

// Describe returns a human-readable description.
func (s *Selector) Describe() string {
	switch {
	case s.Text != "":
		return s.Text
	case s.ID != "":
		return "#" + s.ID
	default:
		return ""
	}
}

// DescribeQuoted returns a quoted description like text="value" or id="value".
func (s *Selector) DescribeQuoted() string {
	switch {
	case s.Text != "":
		return "text=\"" + s.Text + "\""
	case s.ID != "":
		return "id=\"" + s.ID + "\""
	default:
		return ""
	}
}

// Condition is the predicate used by runFlow.when, repeat.while and
// assertCondition. Every clause that is set must hold.
type Condition struct {
	Visible    *Selector
	NotVisible *Selector
	Script     string // JS expression, "true:" in YAML
	Platform   string
}

// UnmarshalYAML decodes a condition mapping. The script clause may be
// written as "true" or "scriptCondition".
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Visible         *Selector `yaml:"visible"`
		NotVisible      *Selector `yaml:"notVisible"`
		True            string    `yaml:"true"`
		ScriptCondition string    `yaml:"scriptCondition"`
		Platform        string    `yaml:"platform"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Visible = raw.Visible
	c.NotVisible = raw.NotVisible
	c.Script = raw.True
	if c.Script == "" {
		c.Script = raw.ScriptCondition
	}
	c.Platform = raw.Platform
	return nil
}

// IsEmpty returns true when no clause is set.
func (c *Condition) IsEmpty() bool {
	return c == nil || (c.Visible == nil && c.NotVisible == nil && c.Script == "" && c.Platform == "")
}
