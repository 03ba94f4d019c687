// Command scenariolint checks scenario definition files before they are
// loaded into drilld.
//
//	scenariolint [-q] path...
//
// Paths may be files or directories; directories are scanned for .json,
// .yaml and .yml files. The exit status is 1 if any definition is invalid.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

var (
	red    = color.New(color.FgHiRed)
	yellow = color.New(color.FgHiYellow)
	green  = color.New(color.FgHiGreen)
	white  = color.New(color.FgHiWhite)
)

func main() {
	quiet := flag.Bool("q", false, "only report invalid files")
	templates := flag.Bool("templates", false, "also check the built-in template library")
	flag.Parse()

	if flag.NArg() == 0 && !*templates {
		fmt.Fprintln(os.Stderr, "usage: scenariolint [-q] [-templates] path...")
		os.Exit(2)
	}

	files, err := collect(flag.Args())
	if err != nil {
		red.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	failed := 0
	for _, path := range files {
		def, err := scenario.LoadDefinition(path)
		if err != nil {
			failed++
			fmt.Printf("%s %s\n", red.Sprint("FAIL"), white.Sprint(path))
			fmt.Printf("     %s\n", err)
			continue
		}
		if !report(path, scenario.Validate(def), *quiet) {
			failed++
		}
	}
	if *templates {
		for _, def := range scenario.Library() {
			if !report(def.ID, scenario.Validate(def), *quiet) {
				failed++
			}
		}
	}

	if failed > 0 {
		red.Printf("%d invalid definition(s)\n", failed)
		os.Exit(1)
	}
	if !*quiet {
		green.Println("all definitions valid")
	}
}

func report(name string, res scenario.ValidationResult, quiet bool) bool {
	if res.OK() {
		if !quiet {
			fmt.Printf("%s   %s\n", green.Sprint("OK"), white.Sprint(name))
		}
		return true
	}
	fmt.Printf("%s %s (%d problem(s))\n", red.Sprint("FAIL"), white.Sprint(name), len(res.Errors))
	for _, e := range res.Errors {
		loc := ""
		if e.NodeID != "" {
			loc = " [" + e.NodeID + "]"
		}
		fmt.Printf("     %s%s %s\n", yellow.Sprint(e.Kind), loc, e.Message)
	}
	return false
}

func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json", ".yaml", ".yml":
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
