package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile is the top level of a YAML declaration file. Nodes are kept so
// each entity can be decoded on its own and errors carry its line.
type yamlFile struct {
	Entity yaml.Node `yaml:"entity"`
}

func loadYAML(path string, mode Mode) ([]rawEntity, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading file: %v", err), File: path}}
	}

	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing YAML: %v", err), File: path}}
	}
	if doc.Entity.Kind == 0 {
		return nil, nil
	}
	if doc.Entity.Kind != yaml.MappingNode {
		return nil, []error{&LoadError{
			Code:    ErrCodeDecode,
			Message: "entity must be a mapping of entity names",
			File:    path,
			Line:    doc.Entity.Line,
		}}
	}

	var raws []rawEntity
	var errs []error
	// Mapping node content alternates key, value.
	for i := 0; i+1 < len(doc.Entity.Content); i += 2 {
		key, val := doc.Entity.Content[i], doc.Entity.Content[i+1]
		var decl EntityDecl
		if err := val.Decode(&decl); err != nil {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDecode,
				Message: fmt.Sprintf("entity.%s: %v", key.Value, err),
				File:    path,
				Line:    key.Line,
			})
			if mode == ModeFailFast {
				return raws, errs
			}
			continue
		}
		raws = append(raws, rawEntity{name: key.Value, decl: decl, err: &LoadError{File: path, Line: key.Line}})
	}
	return raws, errs
}
