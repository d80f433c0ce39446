package forms

// Validate returns the labels of required fields that have no answer, in
// template order. An empty result means the values may be saved. Advisory
// validation hints (min, max, pattern) are not checked.
func Validate(t *Template, values Values) []string {
	var missing []string
	for _, s := range t.Sections {
		for _, f := range s.Fields {
			if !f.Required {
				continue
			}
			if v, ok := values[f.ID]; !ok || !answered(f, v) {
				missing = append(missing, f.Label)
			}
		}
	}
	return missing
}

// answered reports whether v counts as an answer to f. Checkbox fields need a
// non-empty list; any other field needs a non-empty value of any kind.
func answered(f Field, v Value) bool {
	if f.Type == FieldCheckbox {
		l, ok := v.AsStringList()
		return ok && len(l) > 0
	}
	return !v.IsEmpty()
}
