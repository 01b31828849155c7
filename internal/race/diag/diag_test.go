package diag

import (
	"fmt"
	"strings"
	"testing"
)

type captureSink struct {
	lines []string
}

func (c *captureSink) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestReport_PrefixesAndContinues(t *testing.T) {
	sink := &captureSink{}
	old := Default
	Default = sink
	defer func() { Default = old }()

	Report("bad thing: %d", 42)

	if len(sink.lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(sink.lines))
	}
	if !strings.HasPrefix(sink.lines[0], "race: ") {
		t.Errorf("expected race: prefix, got %q", sink.lines[0])
	}
	if !strings.Contains(sink.lines[0], "bad thing: 42") {
		t.Errorf("expected message to be formatted in, got %q", sink.lines[0])
	}
}

func TestDie_PanicsWithFatalErrorAndPrints(t *testing.T) {
	sink := &captureSink{}
	old := Default
	Default = sink
	defer func() { Default = old }()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		Die("invariant broke: %d", 7)
	}()

	fe, ok := recovered.(*FatalError)
	if !ok {
		t.Fatalf("recovered %T, want *FatalError", recovered)
	}
	if !strings.Contains(fe.Error(), "invariant broke: 7") {
		t.Errorf("FatalError.Error() = %q, want it to contain the formatted message", fe.Error())
	}
	if len(sink.lines) != 1 || !strings.Contains(sink.lines[0], "FATAL") || !strings.Contains(sink.lines[0], "invariant broke: 7") {
		t.Errorf("expected one FATAL-prefixed line, got %v", sink.lines)
	}
}

func TestPrintf_NoPrefix(t *testing.T) {
	sink := &captureSink{}
	old := Default
	Default = sink
	defer func() { Default = old }()

	Printf("plain %s", "line")

	if len(sink.lines) != 1 || sink.lines[0] != "plain line" {
		t.Errorf("expected unprefixed output, got %v", sink.lines)
	}
}
