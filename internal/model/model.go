// Package model loads and saves inference programs from/to a model directory.
//
// Two layouts are recognized, auto-detected by the presence of the marker file ModelMarker:
//
//   - LayoutCombined: "__model__" holds the program description (JSON), and each persistable
//     variable is stored in its own file, named after the variable. Names with "/" are stored in
//     subdirectories, and names reaching outside the model directory are rejected.
//   - LayoutSeparate: "model" holds the program description (JSON) and "params" the values of
//     all persistable variables, concatenated in sorted name order.
package model

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Layout of a model directory.
type Layout int

const (
	LayoutCombined Layout = iota
	LayoutSeparate
)

//go:generate go tool enumer -type=Layout -trimprefix=Layout -transform=snake -values -text -json -yaml model.go

// File names used by the layouts.
const (
	ModelMarker       = "__model__"
	SeparateModelFile = "model"
	SeparateParamFile = "params"
)

// Detect the layout of the model directory: LayoutCombined if ModelMarker exists, LayoutSeparate otherwise.
func Detect(dir string) (Layout, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return LayoutCombined, errors.Wrapf(err, "model directory %q", dir)
	}
	if !info.IsDir() {
		return LayoutCombined, errors.Errorf("model path %q is not a directory", dir)
	}
	if _, err = os.Stat(filepath.Join(dir, ModelMarker)); err == nil {
		return LayoutCombined, nil
	} else if !os.IsNotExist(err) {
		return LayoutCombined, errors.Wrapf(err, "probing for %q in %q", ModelMarker, dir)
	}
	return LayoutSeparate, nil
}

// Load the program and its parameters from the model directory, and returns the layout detected.
func Load(dir string) (*program.Program, Layout, error) {
	layout, err := Detect(dir)
	if err != nil {
		return nil, layout, err
	}
	klog.V(1).Infof("Loading model from %q (layout %s)", dir, layout)
	var p *program.Program
	switch layout {
	case LayoutCombined:
		p, err = loadCombined(dir)
	case LayoutSeparate:
		p, err = loadSeparate(dir)
	}
	if err != nil {
		return nil, layout, errors.WithMessagef(err, "loading model from %q", dir)
	}
	if err = p.Validate(); err != nil {
		return nil, layout, errors.WithMessagef(err, "invalid model in %q", dir)
	}
	return p, layout, nil
}

func readProgram(path string) (*program.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open program description")
	}
	defer func() { _ = f.Close() }()
	return program.ReadJSON(bufio.NewReader(f))
}

func loadCombined(dir string) (*program.Program, error) {
	p, err := readProgram(filepath.Join(dir, ModelMarker))
	if err != nil {
		return nil, err
	}
	for _, name := range p.PersistableNames() {
		path, err := paramPath(dir, name)
		if err != nil {
			return nil, err
		}
		t, err := readTensorFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "parameter %q", name)
		}
		p.Params[name] = t
	}
	return p, nil
}

func readTensorFile(path string) (*program.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parameter file")
	}
	defer func() { _ = f.Close() }()
	return program.ReadTensor(bufio.NewReader(f))
}

func loadSeparate(dir string) (*program.Program, error) {
	p, err := readProgram(filepath.Join(dir, SeparateModelFile))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, SeparateParamFile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parameters file")
	}
	defer func() { _ = f.Close() }()
	if err = p.ReadParams(bufio.NewReader(f)); err != nil {
		return nil, err
	}
	return p, nil
}

// Save the program and its parameters to dir (created if needed) using the given layout.
func Save(dir string, p *program.Program, layout Layout) error {
	if err := p.Validate(); err != nil {
		return errors.WithMessage(err, "not saving invalid program")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create model directory %q", dir)
	}
	switch layout {
	case LayoutCombined:
		names := p.PersistableNames()
		paths := make([]string, len(names))
		for ii, name := range names {
			var err error
			if paths[ii], err = paramPath(dir, name); err != nil {
				return err
			}
		}
		if err := writeFile(filepath.Join(dir, ModelMarker), p.WriteJSON); err != nil {
			return err
		}
		for ii, name := range names {
			if err := os.MkdirAll(filepath.Dir(paths[ii]), 0o755); err != nil {
				return errors.Wrapf(err, "failed to create directory for parameter %q", name)
			}
			t := p.Params[name]
			err := writeFile(paths[ii], func(w io.Writer) error {
				return program.WriteTensor(w, t)
			})
			if err != nil {
				return errors.WithMessagef(err, "parameter %q", name)
			}
		}
	case LayoutSeparate:
		if err := writeFile(filepath.Join(dir, SeparateModelFile), p.WriteJSON); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, SeparateParamFile), p.WriteParams); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown model layout %d", layout)
	}
	klog.V(1).Infof("Saved model to %q (layout %s)", dir, layout)
	return nil
}

// paramPath returns the file of the persistable variable name in the combined layout.
func paramPath(dir, name string) (string, error) {
	if !filepath.IsLocal(name) || filepath.Clean(name) == ModelMarker {
		return "", errors.Errorf("parameter name %q can't be used as a file name in %q", name, dir)
	}
	return filepath.Join(dir, name), nil
}

// writeFile creates path and writes it with fn through a buffered writer.
func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	w := bufio.NewWriter(f)
	err = fn(w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "failed to write %q", path)
}
