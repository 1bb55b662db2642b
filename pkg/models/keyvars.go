package models

import "fmt"

// KeyVars designates the quasi-identifying variables of a table: the
// categorical keys that define equivalence classes, the numeric keys
// targeted by microaggregation and noise, and an optional sampling-weight
// column.
type KeyVars struct {
	Categorical []string `json:"categorical" mapstructure:"categorical"`
	Numeric     []string `json:"numeric" mapstructure:"numeric"`
	Weight      string   `json:"weight,omitempty" mapstructure:"weight"`
}

// Validate checks that every designated variable exists with the expected
// kind. Risk computation needs at least one categorical key.
func (kv KeyVars) Validate(t *Table) error {
	if len(kv.Categorical) == 0 {
		return fmt.Errorf("at least one categorical key variable is required")
	}
	for _, name := range kv.Categorical {
		col, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("categorical key variable %q not found", name)
		}
		if col.Kind != KindCategorical {
			return fmt.Errorf("key variable %q has kind %q, want %q", name, col.Kind, KindCategorical)
		}
	}
	for _, name := range kv.Numeric {
		col, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("numeric key variable %q not found", name)
		}
		if col.Kind != KindNumeric {
			return fmt.Errorf("numeric key variable %q has kind %q, want %q", name, col.Kind, KindNumeric)
		}
	}
	if kv.Weight != "" {
		col, ok := t.Column(kv.Weight)
		if !ok {
			return fmt.Errorf("weight variable %q not found", kv.Weight)
		}
		if col.Kind != KindNumeric {
			return fmt.Errorf("weight variable %q must be numeric", kv.Weight)
		}
	}
	return nil
}

// CategoricalColumns resolves the categorical key names against a table.
// Validate must have been called first.
func (kv KeyVars) CategoricalColumns(t *Table) []*Column {
	cols := make([]*Column, len(kv.Categorical))
	for i, name := range kv.Categorical {
		cols[i], _ = t.Column(name)
	}
	return cols
}

// NumericColumns resolves the numeric key names against a table.
func (kv KeyVars) NumericColumns(t *Table) []*Column {
	cols := make([]*Column, len(kv.Numeric))
	for i, name := range kv.Numeric {
		cols[i], _ = t.Column(name)
	}
	return cols
}
