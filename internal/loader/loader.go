// Package loader reads entity and action declarations from CUE or YAML
// files and converts them into an ir.Model.
//
// Both formats share one layout:
//
//	entity: Contact: {
//		schema: "crm"
//		fields: [{name: "email", type: "email"}]
//		actions: [{name: "qualify_lead", steps: [{update: {...}}]}]
//		cascades: [...]
//	}
//
// The loader only checks structure. Names, types, expressions and cascade
// targets are checked by ir.Validate and the compiler.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue/token"

	"github.com/roach88/actionc/internal/ir"
)

// Mode controls how errors are handled during loading.
type Mode int

const (
	// ModeFailFast stops on the first error encountered.
	ModeFailFast Mode = iota
	// ModeCollectAll collects all errors before returning.
	ModeCollectAll
)

// Error code constants, shared with the CLI's error output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No declaration files found
	ErrCodeLoadFailed  = "E004" // CUE load or YAML parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDecode      = "E008" // Declaration does not match the layout
	ErrCodeDuplicate   = "E009" // Entity declared in more than one file
)

// LoadError is an error found while loading declarations.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available

	// File and Line locate YAML errors.
	File string
	Line int
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the outcome of a load.
type Result struct {
	Model *ir.Model
	// Files are the declaration files read, sorted.
	Files []string
}

// rawEntity is a decoded declaration waiting for conversion.
type rawEntity struct {
	name string
	decl EntityDecl
	err  *LoadError // template for positioned conversion errors
}

// Load reads every .cue, .yaml and .yml file under path (a directory or a
// single file). CUE files in a directory are loaded as one instance, YAML
// files one by one. Entities are sorted by name so both formats yield the
// same model.
func Load(path string, mode Mode) (*Result, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations: %v", err)}}
	}

	var cueFiles, yamlFiles []string
	if info.IsDir() {
		cueFiles, yamlFiles, err = FindFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
	} else {
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = []string{path}
		case ".yaml", ".yml":
			yamlFiles = []string{path}
		}
	}
	if len(cueFiles) == 0 && len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE or YAML files found in %s", path)}}
	}

	var raws []rawEntity
	var errs []error
	if len(cueFiles) > 0 {
		got, cueErrs := loadCUE(cueFiles, mode)
		raws = append(raws, got...)
		errs = append(errs, cueErrs...)
		if len(errs) > 0 && mode == ModeFailFast {
			return nil, errs
		}
	}
	for _, f := range yamlFiles {
		got, yamlErrs := loadYAML(f, mode)
		raws = append(raws, got...)
		errs = append(errs, yamlErrs...)
		if len(errs) > 0 && mode == ModeFailFast {
			return nil, errs
		}
	}

	model, convErrs := convert(raws, mode)
	errs = append(errs, convErrs...)

	files := append(append([]string{}, cueFiles...), yamlFiles...)
	sort.Strings(files)
	return &Result{Model: model, Files: files}, errs
}

// FindFiles walks dir and returns its CUE and YAML files, each sorted.
func FindFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
		return nil
	})
	sort.Strings(cueFiles)
	sort.Strings(yamlFiles)
	return cueFiles, yamlFiles, err
}

// convert turns decoded declarations into a model, rejecting duplicates.
func convert(raws []rawEntity, mode Mode) (*ir.Model, []error) {
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].name < raws[j].name })

	names := make([]string, 0, len(raws))
	for _, r := range raws {
		names = append(names, r.name)
	}
	conv := newConverter(names)

	model := &ir.Model{}
	var errs []error
	for i, r := range raws {
		if i > 0 && raws[i-1].name == r.name {
			le := *r.err
			le.Code = ErrCodeDuplicate
			le.Message = fmt.Sprintf("entity %s declared more than once", r.name)
			errs = append(errs, &le)
			if mode == ModeFailFast {
				return model, errs
			}
			continue
		}
		e, err := conv.entity(r.name, r.decl)
		if err != nil {
			le := *r.err
			le.Code = ErrCodeDecode
			le.Message = fmt.Sprintf("entity.%s: %v", r.name, err)
			errs = append(errs, &le)
			if mode == ModeFailFast {
				return model, errs
			}
			continue
		}
		model.Entities = append(model.Entities, e)
	}

	if len(model.Entities) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no entities found in declarations"})
	}
	return model, errs
}
