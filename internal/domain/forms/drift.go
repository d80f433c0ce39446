package forms

// Drift describes how an instance's stored values have diverged from the
// current shape of its template. Nothing is ever migrated; this is a report.
type Drift struct {
	// StaleKeys are stored keys with no matching field in the template.
	StaleKeys []string `json:"stale_keys"`
	// Mismatched are keys whose stored value no longer fits the field, e.g. a
	// select answer whose option was removed or a type change.
	Mismatched []string `json:"mismatched"`
	// Unanswered are template field ids with no stored value.
	Unanswered []string `json:"unanswered"`
}

// Empty reports whether the instance lines up with the template exactly.
func (d Drift) Empty() bool {
	return len(d.StaleKeys) == 0 && len(d.Mismatched) == 0 && len(d.Unanswered) == 0
}

// DiffInstance compares stored values against the template's current fields.
// Keys are reported in sorted order and field ids in template order.
func DiffInstance(t *Template, values Values) Drift {
	d := Drift{StaleKeys: []string{}, Mismatched: []string{}, Unanswered: []string{}}
	for _, k := range values.Keys() {
		f, ok := t.FieldByID(k)
		if !ok {
			d.StaleKeys = append(d.StaleKeys, k)
			continue
		}
		if _, err := coerce(f, values[k]); err != nil {
			d.Mismatched = append(d.Mismatched, k)
		}
	}
	for _, f := range t.Fields() {
		if _, ok := values[f.ID]; !ok {
			d.Unanswered = append(d.Unanswered, f.ID)
		}
	}
	return d
}
