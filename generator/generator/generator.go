package generator

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	bindgen "github.com/jerbob92/wazero-bindgen"
)

var (
	//go:embed templates/*
	templates embed.FS
)

type Options struct {
	// Dir is the output directory of the Go wrapper file.
	Dir string
	// GoFile is the name of the Go wrapper file, bindings.go by default.
	GoFile string
	// Package is the Go package name. When empty it is detected from Dir.
	Package string
	// CppFile is the path of the native glue, gen-bindings.cpp in Dir by
	// default.
	CppFile string
	// Source is mentioned in the generated headers.
	Source string
	Logger *zap.Logger
}

// Generate writes the native glue and the Go host wrappers for bindings.
func Generate(bindings *bindgen.Bindings, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Dir == "" {
		opts.Dir = "."
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return err
	}
	if opts.GoFile == "" {
		opts.GoFile = "bindings.go"
	}
	if opts.CppFile == "" {
		opts.CppFile = path.Join(dir, "gen-bindings.cpp")
	}
	if opts.Package == "" {
		opts.Package = detectPackage(dir, logger)
	}

	cpp, err := GenerateCpp(bindings, opts.Source)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.CppFile, cpp, 0o644); err != nil {
		return err
	}

	goSource, err := GenerateGo(bindings, opts.Package, opts.Source)
	if err != nil {
		return err
	}
	goPath := path.Join(dir, opts.GoFile)
	if err := os.WriteFile(goPath, goSource, 0o644); err != nil {
		return err
	}

	logger.Info("generated bindings",
		zap.Int("classes", len(bindings.Classes())),
		zap.Int("structs", len(bindings.Structs())),
		zap.Int("symbols", len(bindings.Symbols())),
		zap.String("cpp", opts.CppFile),
		zap.String("go", goPath),
	)

	return nil
}

// detectPackage returns the name of the Go package in dir, or the
// directory name when dir holds no Go package yet.
func detectPackage(dir string, logger *zap.Logger) string {
	pkgs, err := packages.Load(&packages.Config{
		Dir:  dir,
		Mode: packages.NeedName,
	}, ".")
	if err == nil && len(pkgs) > 0 && pkgs[0].Name != "" {
		return pkgs[0].Name
	}
	if err != nil {
		logger.Debug("could not load package", zap.String("dir", dir), zap.Error(err))
	}

	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return -1
	}, filepath.Base(dir))
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "bindings"
	}
	return name
}

var TemplateFunctions = template.FuncMap{
	"join": strings.Join,
}

func ExecuteTemplate(name string, data any) ([]byte, error) {
	tmpl, err := template.New("").
		Funcs(TemplateFunctions).
		ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}

	writer := bytes.NewBuffer(nil)
	if err := tmpl.ExecuteTemplate(writer, name, data); err != nil {
		return nil, err
	}
	return writer.Bytes(), nil
}

func formatGo(name string, source []byte) ([]byte, error) {
	formattedSource, err := format.Source(source)
	if err != nil {
		return nil, fmt.Errorf("could not format %s: %w\nsource:\n%s", name, err, source)
	}
	return formattedSource, nil
}

// generateGoName makes an exported Go identifier of a native name.
func generateGoName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == ':' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
