// Package sandbox interprets solve plans with Yaegi instead of compiling
// them. Interpretation keeps generated code away from go build and gives the
// loop a single string result to classify.
//
// The solve-plan contract: the code defines
//
//	func solve(call func(name string, args map[string]interface{}) (string, error)) string
//
// where call is the only way back into the host (it routes through the tool
// dispatcher). Whatever string solve returns is handed to the loop verbatim,
// so plans signal with the FINAL_ANSWER: / FURTHER_PROCESSING_REQUIRED:
// prefixes.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"recall/internal/logging"
	"recall/internal/tools"
)

// SolveFunc is the host-side view of an interpreted solve function.
type SolveFunc = func(call func(name string, args map[string]interface{}) (string, error)) string

// Runner executes solve plans in a restricted interpreter.
type Runner struct {
	// Whitelist of stdlib packages a plan may import. Filesystem, network,
	// process, and unsafe packages stay out.
	allowedPackages map[string]bool
}

// NewRunner creates a sandbox runner with the default import whitelist.
func NewRunner() *Runner {
	return &Runner{
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
		},
	}
}

// Run interprets a solve plan and returns its result string. Every failure
// mode is folded into a "[sandbox error: ...]" string rather than an error:
// the loop treats sandbox failures as retryable, not fatal.
func (r *Runner) Run(ctx context.Context, code string, dispatcher *tools.Dispatcher) string {
	log := logging.Get(logging.CategorySandbox)

	if err := r.validateImports(code); err != nil {
		log.Warn("rejected plan: %v", err)
		return fmt.Sprintf("[sandbox error: %v]", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Sprintf("[sandbox error: failed to load stdlib: %v]", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		log.Warn("plan evaluation failed: %v", err)
		return fmt.Sprintf("[sandbox error: code evaluation failed: %v]", err)
	}

	v, err := i.Eval("main.solve")
	if err != nil {
		return fmt.Sprintf("[sandbox error: solve function not found: %v]", err)
	}
	solve, ok := v.Interface().(SolveFunc)
	if !ok {
		return "[sandbox error: solve has incorrect signature (expected: func(call func(string, map[string]interface{}) (string, error)) string)]"
	}

	call := func(name string, args map[string]interface{}) (string, error) {
		return dispatcher.Call(ctx, name, args)
	}

	resultChan := make(chan string, 1)
	panicChan := make(chan string, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicChan <- fmt.Sprintf("%v", rec)
			}
		}()
		resultChan <- strings.TrimSpace(solve(call))
	}()

	select {
	case result := <-resultChan:
		log.Info("solve plan returned %d chars", len(result))
		return result
	case msg := <-panicChan:
		log.Warn("solve plan panicked: %s", msg)
		return fmt.Sprintf("[sandbox error: solve panicked: %s]", msg)
	case <-ctx.Done():
		return fmt.Sprintf("[sandbox error: execution timed out: %v]", ctx.Err())
	}
}

// validateImports checks the plan only imports whitelisted packages.
func (r *Runner) validateImports(code string) error {
	var imports []string
	inImportBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock && strings.HasPrefix(trimmed, ")") {
			inImportBlock = false
			continue
		}

		if inImportBlock {
			if pkg := parseImportLine(trimmed); pkg != "" {
				imports = append(imports, pkg)
			}
		} else if strings.HasPrefix(trimmed, "import ") {
			if pkg := parseImportLine(strings.TrimPrefix(trimmed, "import ")); pkg != "" {
				imports = append(imports, pkg)
			}
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !r.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

func parseImportLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "//") {
		return ""
	}
	// Aliased form: alias "pkg"
	if fields := strings.Fields(line); len(fields) == 2 {
		line = fields[1]
	}
	return strings.Trim(line, `"`)
}

// wrapCode wraps the plan in a main package if needed.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
