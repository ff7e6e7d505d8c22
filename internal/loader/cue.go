package loader

import (
	"fmt"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// loadCUE builds one CUE instance per directory and decodes its
// "entity" struct.
func loadCUE(files []string, mode Mode) ([]rawEntity, []error) {
	byDir := make(map[string][]string)
	for _, f := range files {
		dir := filepath.Dir(f)
		byDir[dir] = append(byDir[dir], filepath.Base(f))
	}
	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	ctx := cuecontext.New()
	var raws []rawEntity
	var errs []error
	for _, dir := range dirs {
		got, dirErrs := loadCUEDir(ctx, dir, byDir[dir], mode)
		raws = append(raws, got...)
		errs = append(errs, dirErrs...)
		if len(errs) > 0 && mode == ModeFailFast {
			return raws, errs
		}
	}
	return raws, errs
}

func loadCUEDir(ctx *cue.Context, dir string, files []string, mode Mode) ([]rawEntity, []error) {
	cfg := &load.Config{Dir: dir}
	instances := load.Instances(files, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded", File: dir}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err), File: dir}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err), File: dir}}
	}
	// Err only reports a failure of the root; conflicts inside fields
	// surface through Validate.
	if err := value.Validate(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("validating CUE value: %v", err), File: dir}}
	}

	entities := value.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, nil
	}

	iter, err := entities.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating entities: %v", err), Pos: entities.Pos()}}
	}

	var raws []rawEntity
	var errs []error
	for iter.Next() {
		name := iter.Label()
		v := iter.Value()
		var decl EntityDecl
		if err := v.Decode(&decl); err != nil {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDecode,
				Message: fmt.Sprintf("entity.%s: %v", name, err),
				Pos:     v.Pos(),
			})
			if mode == ModeFailFast {
				return raws, errs
			}
			continue
		}
		raws = append(raws, rawEntity{name: name, decl: decl, err: &LoadError{Pos: v.Pos()}})
	}
	return raws, errs
}
