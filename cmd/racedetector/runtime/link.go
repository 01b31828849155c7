// Package runtime resolves how an instrumented package reaches the race
// detector runtime it now imports: whether that's the racedetector module
// itself (development, running from source) or a versioned dependency
// (an end user's project), and builds the go.mod overlay and require line
// each case needs.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// Version is the module version instrumented code's generated go.mod
// require line pins the runtime to.
const Version = "v0.1.0"

// GetRuntimePackagePath returns the import path instrumented code uses to
// reach RaceRead, RaceWrite, and the rest of the Instrumentation API
// surface: the public race package, not the internal one, so instrumented
// code outside this module can still import it.
func GetRuntimePackagePath() string {
	return "github.com/kolkov/racedetector/race"
}

// GetRuntimeInitCode returns Go code to initialize the race detector.
//
// This code should be injected at the beginning of the main() function
// to ensure the detector is properly initialized before any memory accesses.
//
// Returns:
//   - Go code string to initialize race detector
//
// Example output:
//
//	race.Init()
//	defer race.Fini()
func GetRuntimeInitCode() string {
	return `race.Init()
defer race.Fini()`
}

// ValidateRuntimeAvailable checks whether the runtime this tool would link
// against can actually be found: either internal/race/api in a development
// checkout of this module, or (outside the module) the published race
// package that go.mod's require/replace machinery is expected to resolve at
// build time. The latter case cannot be verified without invoking the Go
// command itself, so it is left to the eventual 'go build'/'go test' call
// in the workspace to fail loudly if the require line is wrong.
func ValidateRuntimeAvailable() error {
	if projectRoot, err := findProjectRoot(); err == nil {
		runtimePath := filepath.Join(projectRoot, "internal", "race", "api")
		if _, err := os.Stat(runtimePath); err == nil {
			return nil
		}
	}
	return nil
}

// findProjectRoot finds the root directory of the racedetector project.
//
// This walks up the directory tree from the current executable location
// looking for our specific project marker (internal/race/api directory).
// We don't just look for any go.mod because that would match the user's project.
//
// Returns:
//   - Project root path
//   - Error if root cannot be found
func findProjectRoot() (string, error) {
	// Start from current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up looking for internal/race/api (our specific runtime marker)
	dir := cwd
	for {
		// Check for internal/race/api (our runtime - THIS IS THE KEY MARKER)
		runtimePath := filepath.Join(dir, "internal", "race", "api")
		if _, err := os.Stat(runtimePath); err == nil {
			return dir, nil
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root without finding project
			break
		}
		dir = parent
	}

	// Not found by walking up - try to find via executable path
	exePath, err := os.Executable()
	if err == nil {
		// Executable might be in project root or bin directory
		exeDir := filepath.Dir(exePath)
		candidates := []string{
			exeDir,                             // racedetector.exe in project root
			filepath.Dir(exeDir),               // racedetector.exe in bin/
			filepath.Dir(filepath.Dir(exeDir)), // deeper nesting
		}
		for _, candidate := range candidates {
			runtimePath := filepath.Join(candidate, "internal", "race", "api")
			if _, err := os.Stat(runtimePath); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("could not find racedetector project root")
}

// findOriginalGoMod finds the go.mod file of the project being instrumented.
//
// This walks up from the given directory looking for go.mod file.
// This is different from findProjectRoot which finds racedetector's root.
//
// Parameters:
//   - startDir: Directory to start searching from (usually the source file's directory)
//
// Returns:
//   - Path to go.mod file
//   - Empty string if no go.mod found
func findOriginalGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// BuildFlags returns additional 'go build'/'go test' flags the instrumented
// workspace needs beyond what the caller already passed through. Unlike the
// official race detector, this runtime carries no build-tag or linker
// requirement of its own -- the instrumentation is plain Go calling plain
// Go -- so there is nothing to add today; kept as its own function so a
// future requirement (a build tag gating the stats package, say) has
// somewhere to go without touching every call site.
func BuildFlags() []string {
	return []string{}
}

// ModFileOverlay creates a temporary go.mod overlay for instrumented code.
//
// When instrumenting code outside the racedetector project, we need to
// ensure it can import our runtime. This creates a go.mod overlay that
// replaces the remote import with a local path.
//
// It also preserves replace directives from the original project's go.mod,
// converting relative paths to absolute paths (since the temp directory
// has a different working directory).
//
// Parameters:
//   - tempDir: Temporary directory where instrumented code is being built
//   - sourceDir: Directory of the source file being instrumented (to find original go.mod)
//
// Returns:
//   - Path to overlay file (for -modfile flag)
//   - Error if overlay creation fails
func ModFileOverlay(tempDir, sourceDir string) (string, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		// Not in development mode - use published package
		//nolint:nilerr // Error indicates published mode, not a failure
		return "", nil
	}

	// Build go.mod content
	var content strings.Builder
	content.WriteString("module instrumented\n\n")
	content.WriteString("go 1.19\n\n")
	content.WriteString("require github.com/kolkov/racedetector v0.0.0\n\n")
	content.WriteString(fmt.Sprintf("replace github.com/kolkov/racedetector => %s\n", projectRoot))

	// Find and parse original project's go.mod to copy replace directives
	if sourceDir != "" {
		originalGoMod := findOriginalGoMod(sourceDir)
		if originalGoMod != "" {
			replaceDirectives := extractReplaceDirectives(originalGoMod)
			if replaceDirectives != "" {
				content.WriteString("\n// Replace directives from original go.mod:\n")
				content.WriteString(replaceDirectives)
			}
		}
	}

	// Create go.mod in temp directory
	overlayPath := filepath.Join(tempDir, "go.mod.overlay")
	if err := os.WriteFile(overlayPath, []byte(content.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to create go.mod overlay: %w", err)
	}

	return overlayPath, nil
}

// extractReplaceDirectives reads a go.mod file and extracts replace directives,
// converting relative paths to absolute paths.
//
// Parameters:
//   - goModPath: Path to the go.mod file to parse
//
// Returns:
//   - String containing replace directives with absolute paths
func extractReplaceDirectives(goModPath string) string {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return ""
	}

	modFile, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return ""
	}

	if len(modFile.Replace) == 0 {
		return ""
	}

	goModDir := filepath.Dir(goModPath)
	var result strings.Builder

	for _, rep := range modFile.Replace {
		newPath := rep.New.Path

		// Check if it's a local path (relative or already absolute)
		// Local paths don't have a version and are filesystem paths
		if rep.New.Version == "" && isLocalPath(newPath) {
			// Convert relative path to absolute
			if !filepath.IsAbs(newPath) {
				absPath, err := filepath.Abs(filepath.Join(goModDir, newPath))
				if err == nil {
					newPath = absPath
				}
			}
		}

		// Write the replace directive
		if rep.Old.Version != "" {
			// Replace specific version: replace foo v1.0.0 => bar
			if rep.New.Version != "" {
				result.WriteString(fmt.Sprintf("replace %s %s => %s %s\n",
					rep.Old.Path, rep.Old.Version, newPath, rep.New.Version))
			} else {
				result.WriteString(fmt.Sprintf("replace %s %s => %s\n",
					rep.Old.Path, rep.Old.Version, newPath))
			}
		} else {
			// Replace all versions: replace foo => bar
			if rep.New.Version != "" {
				result.WriteString(fmt.Sprintf("replace %s => %s %s\n",
					rep.Old.Path, newPath, rep.New.Version))
			} else {
				result.WriteString(fmt.Sprintf("replace %s => %s\n",
					rep.Old.Path, newPath))
			}
		}
	}

	return result.String()
}

// isLocalPath checks if a path is a local filesystem path (not a module path).
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	// Windows drive letter check (e.g., C:\)
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	// Check if it looks like a relative path (contains path separator but no dots)
	// This handles cases like "subdir/module"
	if strings.ContainsAny(path, `/\`) && !strings.Contains(path, ".") {
		return true
	}
	return false
}
