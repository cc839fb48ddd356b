package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	bindgen "github.com/jerbob92/wazero-bindgen"
	"github.com/jerbob92/wazero-bindgen/generator/generator"
)

var (
	decl    *string
	out     *string
	pkg     *string
	goFile  *string
	cppFile *string
	verbose *bool
)

func init() {
	decl = flag.String("decl", "bindings.yaml", "the declaration file to generate bindings for")
	out = flag.String("out", ".", "the directory to write the Go wrappers to")
	pkg = flag.String("pkg", "", "the Go package name, detected from the output directory when empty")
	goFile = flag.String("go", "bindings.go", "the name of the Go wrapper file")
	cppFile = flag.String("cpp", "", "the path of the native glue, gen-bindings.cpp in the output directory when empty")
	verbose = flag.Bool("v", false, "enable verbose logging")
}

func Usage() {
	fmt.Fprintf(os.Stderr, "Usage of wazero-bindgen/generator:\n")
	fmt.Fprintf(os.Stderr, "\tgenerator -decl bindings.yaml [-out dir] [-pkg name] [-cpp gen-bindings.cpp]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = Usage
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
		defer logger.Sync()
	}

	bindings, err := bindgen.LoadDeclarations(logger, *decl)
	if err != nil {
		log.Fatal(err)
	}

	err = generator.Generate(bindings, generator.Options{
		Dir:     *out,
		GoFile:  *goFile,
		Package: *pkg,
		CppFile: *cppFile,
		Source:  *decl,
		Logger:  logger,
	})
	if err != nil {
		log.Fatal(err)
	}
}
