package ninja

// RuleSet holds the optional fields of a Ninja rule declaration. It is a
// sparse option bag: a field left at its zero value is absent and is not
// emitted, so a rule never carries a "key =" line, which Ninja would read
// as an assignment to the empty string rather than an omitted key.
type RuleSet struct {
	Description    string
	Depfile        string
	Pool           string
	RspFile        string
	RspFileContent string
	Deps           string
	Generator      bool
	Restat         bool
}

// fields returns the rule's set key/value pairs in the canonical emission
// order, skipping anything left at its zero value.
func (r RuleSet) fields() []kv {
	var out []kv
	if r.Description != "" {
		out = append(out, kv{"description", r.Description})
	}
	if r.Depfile != "" {
		out = append(out, kv{"depfile", r.Depfile})
	}
	if r.Deps != "" {
		out = append(out, kv{"deps", r.Deps})
	}
	if r.Generator {
		out = append(out, kv{"generator", "1"})
	}
	if r.Pool != "" {
		out = append(out, kv{"pool", r.Pool})
	}
	if r.Restat {
		out = append(out, kv{"restat", "1"})
	}
	if r.RspFile != "" {
		out = append(out, kv{"rspfile", r.RspFile})
	}
	if r.RspFileContent != "" {
		out = append(out, kv{"rspfile_content", r.RspFileContent})
	}
	return out
}

// BuildSet holds the optional fields of a Ninja build declaration.
type BuildSet struct {
	Inputs          []string
	Implicit        []string
	OrderOnly       []string
	ImplicitOutputs []string
	Variables       map[string]string
	// VariableOrder, if non-nil, fixes the emission order of Variables so
	// output stays byte-deterministic across runs; if nil, keys are sorted.
	VariableOrder []string
	Pool          string
	Dyndep        string
}

type kv struct {
	key, value string
}
