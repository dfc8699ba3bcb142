// Package registry holds the Language Registry: a static, process-wide,
// read-only table of language recipes. This deliberately replaces the
// teacher's polymorphic per-language Runner interface (one struct per
// language, dispatched through an interface) with a closed data table —
// adding a language here is a data change, not a new type.
package registry

import (
	"fmt"
	"regexp"
)

// Recipe is an immutable language recipe: everything the Worker Pool needs
// to compile (optionally) and run a submission in a given language.
type Recipe struct {
	LanguageID string

	Image          string
	SourceFilename string

	// CompileCommand is nil for script languages that need no compile step.
	CompileCommand []string
	RunCommand     []string

	DefaultRunTimeoutMs     int64
	DefaultCompileTimeoutMs int64
	DefaultMemoryLimitMiB   int64
	DefaultCPUQuota         float64

	// Resolve, when non-nil, derives the run command from the submitted
	// source instead of using RunCommand verbatim — used by Java, where the
	// public class name determines the argument passed to `java`.
	Resolve func(source []byte) (runCommand []string, err error)
}

// Registry is the read-only, process-wide lookup table, safe for
// concurrent use by every worker once built by New.
type Registry struct {
	recipes map[string]Recipe
}

// ErrUnknownLanguage is returned by Lookup for an unregistered language_id.
type ErrUnknownLanguage struct{ LanguageID string }

func (e ErrUnknownLanguage) Error() string {
	return fmt.Sprintf("registry: unknown language_id %q", e.LanguageID)
}

// New builds a Registry from the built-in recipe set.
func New() *Registry {
	recipes := make(map[string]Recipe, len(builtin))
	for _, r := range builtin {
		recipes[r.LanguageID] = r
	}
	return &Registry{recipes: recipes}
}

// Lookup resolves a language_id to its recipe in constant time.
func (r *Registry) Lookup(languageID string) (Recipe, error) {
	recipe, ok := r.recipes[languageID]
	if !ok {
		return Recipe{}, ErrUnknownLanguage{LanguageID: languageID}
	}
	return recipe, nil
}

// Known returns every registered language_id, sorted by registration order.
func (r *Registry) Known() []string {
	ids := make([]string, 0, len(builtin))
	for _, b := range builtin {
		ids = append(ids, b.LanguageID)
	}
	return ids
}

var javaClassName = regexp.MustCompile(`public\s+(?:final\s+)?class\s+(\w+)`)

// resolveJavaRunCommand extracts the public class name from the submitted
// source, mirroring the teacher's extractJavaClassNameFromCode, and uses it
// as the argument to `java` (the compiled .class file of the same name sits
// next to it in the working directory after javac runs).
func resolveJavaRunCommand(source []byte) ([]string, error) {
	m := javaClassName.FindSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("registry: no public class found in java source")
	}
	return []string{"java", string(m[1])}, nil
}

// builtin is the closed set of recipes. spec.md's minimum is python3,
// javascript, java, cpp, c; typescript/go/rust/ruby/php are this
// expansion's supplement, grounded on the teacher's runner.go per-language
// knowledge but expressed as data instead of one Runner struct per
// language.
var builtin = []Recipe{
	{
		LanguageID:              "python3",
		Image:                   "codejudge-lang-python3:latest",
		SourceFilename:          "main.py",
		RunCommand:              []string{"python3", "-u", "main.py"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "javascript",
		Image:                   "codejudge-lang-javascript:latest",
		SourceFilename:          "main.js",
		RunCommand:              []string{"node", "--jitless", "main.js"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "typescript",
		Image:                   "codejudge-lang-javascript:latest",
		SourceFilename:          "main.ts",
		RunCommand:              []string{"npx", "--yes", "ts-node", "main.ts"},
		DefaultRunTimeoutMs:     15_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   384,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "java",
		Image:                   "codejudge-lang-java:latest",
		SourceFilename:          "Main.java",
		CompileCommand:          []string{"javac", "Main.java"},
		RunCommand:              []string{"java", "Main"},
		Resolve:                 resolveJavaRunCommand,
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 20_000,
		DefaultMemoryLimitMiB:   384,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "cpp",
		Image:                   "codejudge-lang-cpp:latest",
		SourceFilename:          "main.cpp",
		CompileCommand:          []string{"g++", "-O2", "-Wall", "-o", "main", "main.cpp"},
		RunCommand:              []string{"./main"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 20_000,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "c",
		Image:                   "codejudge-lang-cpp:latest",
		SourceFilename:          "main.c",
		CompileCommand:          []string{"gcc", "-O2", "-Wall", "-o", "main", "main.c"},
		RunCommand:              []string{"./main"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 20_000,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "go",
		Image:                   "codejudge-lang-go:latest",
		SourceFilename:          "main.go",
		RunCommand:              []string{"go", "run", "main.go"},
		DefaultRunTimeoutMs:     15_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   384,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "rust",
		Image:                   "codejudge-lang-rust:latest",
		SourceFilename:          "main.rs",
		CompileCommand:          []string{"rustc", "-O", "-o", "main", "main.rs"},
		RunCommand:              []string{"./main"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 30_000,
		DefaultMemoryLimitMiB:   384,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "ruby",
		Image:                   "codejudge-lang-ruby:latest",
		SourceFilename:          "main.rb",
		RunCommand:              []string{"ruby", "main.rb"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
	{
		LanguageID:              "php",
		Image:                   "codejudge-lang-php:latest",
		SourceFilename:          "main.php",
		RunCommand:              []string{"php", "main.php"},
		DefaultRunTimeoutMs:     10_000,
		DefaultCompileTimeoutMs: 0,
		DefaultMemoryLimitMiB:   256,
		DefaultCPUQuota:         1.0,
	},
}
