// Package main implements the racedetector CLI: an AST-level instrumenter
// that inserts race.RaceRead/race.RaceWrite calls before plain memory
// accesses (sync primitives and goroutine lifecycle points are not
// rewritten) against the Pure-Go runtime in package race, then
// drives the standard go tool over the rewritten tree. Because none of it
// depends on cgo, it runs anywhere CGO_ENABLED=0 does -- static
// cross-compiles, scratch containers, and platforms the official
// cgo-backed race detector cannot target at all.
//
// Usage:
//
//	racedetector build main.go     # Build with race detection
//	racedetector run main.go       # Run with race detection
//	racedetector test ./...        # Test with race detection
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "build":
		buildCommand(os.Args[2:])
	case "run":
		runCommand(os.Args[2:])
	case "test":
		testCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("racedetector version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`racedetector - Pure-Go Race Detector Tool

USAGE:
    racedetector <command> [arguments]

COMMANDS:
    build      Build Go program with race detection
    run        Run Go program with race detection
    test       Test Go packages with race detection
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Build a program with race detection
    racedetector build -o myapp main.go

    # Run a program with race detection
    racedetector run main.go --flag=value

    # Test packages with race detection
    racedetector test -v ./...

    # Test with coverage
    racedetector test -cover ./internal/...

ABOUT:
    racedetector instruments Go source at the AST level (see the instrument
    package) and links the result against the Pure-Go race detector runtime
    (package race), needing neither cgo nor a patched toolchain. That makes
    it usable anywhere CGO_ENABLED=0 already is:
    - Docker containers built FROM scratch
    - Cross-compiled and embedded targets
    - Any platform the official race detector's supported-arch list omits

FOR MORE INFORMATION:
    Repository: https://github.com/kolkov/racedetector
    Documentation: https://github.com/kolkov/racedetector/blob/main/README.md
    Issues: https://github.com/kolkov/racedetector/issues

`)
}

// buildCommand is implemented in build.go
// runCommand is implemented in run.go
// testCommand is implemented in test.go
