package bindgen

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// DeclarationFile is the YAML form of a declaration list.
type DeclarationFile struct {
	Structs []StructSpec `yaml:"structs"`
	Classes []ClassSpec  `yaml:"classes"`
}

type FieldSpec struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value any    `yaml:"value,omitempty"`
}

type StructSpec struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

type CallableSpec struct {
	Name       string   `yaml:"name,omitempty"`
	Params     []string `yaml:"params,omitempty"`
	ParamNames []string `yaml:"param_names,omitempty"`
	Result     string   `yaml:"result,omitempty"`
}

type ClassSpec struct {
	Name          string         `yaml:"name"`
	Base          string         `yaml:"base,omitempty"`
	Constructors  []CallableSpec `yaml:"constructors,omitempty"`
	Methods       []CallableSpec `yaml:"methods,omitempty"`
	StaticMethods []CallableSpec `yaml:"static_methods,omitempty"`
	Fields        []FieldSpec    `yaml:"fields,omitempty"`
	StaticFields  []FieldSpec    `yaml:"static_fields,omitempty"`
}

// LoadDeclarations reads a declaration file from disk.
func LoadDeclarations(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading declaration file: %w", err)
	}
	entries, err := ParseDeclarations(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseDeclarations turns YAML into registration entries. All classes and
// structs are declared before any member, so members may refer to types
// declared further down.
func ParseDeclarations(data []byte) ([]Entry, error) {
	var file DeclarationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, bgerrors.New(bgerrors.PhaseLoad, bgerrors.KindInvalidInput).
			Detail("parsing YAML declarations").
			Cause(err).
			Build()
	}
	return file.Entries()
}

// Entries converts the file into registration entries.
func (f *DeclarationFile) Entries() ([]Entry, error) {
	var entries []Entry
	structs := map[string]StructSpec{}

	for _, s := range f.Structs {
		fields := make([]Field, len(s.Fields))
		for i, fs := range s.Fields {
			t, err := ParseType(fs.Type)
			if err != nil {
				return nil, fmt.Errorf("struct %s field %s: %w", s.Name, fs.Name, err)
			}
			fields[i] = Field{Name: fs.Name, Type: t}
		}
		structs[s.Name] = s
		entries = append(entries, DeclareStruct(s.Name, fields...))
	}

	for _, c := range f.Classes {
		entries = append(entries, DeclareClass(c.Name))
	}

	for _, c := range f.Classes {
		if c.Base != "" {
			entries = append(entries, DeclareBase(c.Name, c.Base))
		}

		for i, spec := range c.Constructors {
			e, err := callableEntry(OpConstructor, c.Name, spec)
			if err != nil {
				return nil, fmt.Errorf("class %s constructor %d: %w", c.Name, i, err)
			}
			entries = append(entries, e)
		}
		for _, spec := range c.Methods {
			e, err := callableEntry(OpMethod, c.Name, spec)
			if err != nil {
				return nil, fmt.Errorf("class %s method %s: %w", c.Name, spec.Name, err)
			}
			entries = append(entries, e)
		}
		for _, spec := range c.StaticMethods {
			e, err := callableEntry(OpStaticMethod, c.Name, spec)
			if err != nil {
				return nil, fmt.Errorf("class %s static method %s: %w", c.Name, spec.Name, err)
			}
			entries = append(entries, e)
		}

		for _, fs := range c.Fields {
			t, err := ParseType(fs.Type)
			if err != nil {
				return nil, fmt.Errorf("class %s field %s: %w", c.Name, fs.Name, err)
			}
			entries = append(entries, DeclareField(c.Name, fs.Name, t))
		}
		for _, fs := range c.StaticFields {
			t, err := ParseType(fs.Type)
			if err != nil {
				return nil, fmt.Errorf("class %s static field %s: %w", c.Name, fs.Name, err)
			}
			value, err := staticValue(t, fs.Value, structs)
			if err != nil {
				return nil, fmt.Errorf("class %s static field %s: %w", c.Name, fs.Name, err)
			}
			entries = append(entries, DeclareStaticField(c.Name, fs.Name, t, value))
		}
	}

	return entries, nil
}

func callableEntry(op EntryOp, class string, spec CallableSpec) (Entry, error) {
	e := Entry{Op: op, Class: class, Name: spec.Name, ParamNames: spec.ParamNames}
	if op != OpConstructor && spec.Name == "" {
		return Entry{}, bgerrors.InvalidInput(bgerrors.PhaseLoad, "callable without a name")
	}
	if len(spec.ParamNames) > 0 && len(spec.ParamNames) != len(spec.Params) {
		return Entry{}, bgerrors.InvalidInput(bgerrors.PhaseLoad,
			fmt.Sprintf("%d parameter name(s) for %d parameter(s)", len(spec.ParamNames), len(spec.Params)))
	}
	for _, p := range spec.Params {
		t, err := ParseType(p)
		if err != nil {
			return Entry{}, err
		}
		e.Params = append(e.Params, t)
	}
	if spec.Result != "" {
		t, err := ParseType(spec.Result)
		if err != nil {
			return Entry{}, err
		}
		e.Result = &t
	}
	return e, nil
}

// staticValue converts a decoded YAML value into something the host
// encoder understands. Mappings become records of the declared struct.
func staticValue(t TypeRef, value any, structs map[string]StructSpec) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	if t.Kind != KindStruct {
		return nil, bgerrors.TypeMismatch(bgerrors.PhaseLoad, nil, t.String(), "mapping")
	}
	spec, ok := structs[t.Name]
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseLoad, "struct", t.Name)
	}

	rec := Record{Type: t.Name, Fields: map[string]any{}}
	for _, fs := range spec.Fields {
		fv, present := m[fs.Name]
		if !present {
			continue
		}
		ft, err := ParseType(fs.Type)
		if err != nil {
			return nil, err
		}
		converted, err := staticValue(ft, fv, structs)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fs.Name, err)
		}
		rec.Fields[fs.Name] = converted
	}
	for name := range m {
		if _, ok := rec.Fields[name]; !ok {
			return nil, bgerrors.NotFound(bgerrors.PhaseLoad, "field", t.Name+"."+name)
		}
	}
	return rec, nil
}
