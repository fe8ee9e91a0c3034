package analysis

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/infra/parser"
)

var testFormats = map[domain.ToolID]string{
	"vet":  "vet",
	"lint": "golangci",
	"test": "gotest",
}

func testParsers(tool domain.ToolID, root string) (domain.Parser, error) {
	return parser.For(testFormats[tool], tool, root)
}

func newAggregator(priority ...domain.ToolID) *Aggregator {
	return &Aggregator{Parsers: testParsers, Priority: priority}
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func vetInv(stderr string) domain.Invocation {
	return domain.Invocation{
		Tool: "vet", Status: domain.InvocationExited, ExitCode: 1,
		Stderr: []byte(stderr), Stream: domain.StreamStderr,
		StartedAt: t0, EndedAt: t0.Add(120 * time.Millisecond),
	}
}

func lintInv(stdout string) domain.Invocation {
	return domain.Invocation{
		Tool: "lint", Status: domain.InvocationExited, ExitCode: 1,
		Stdout: []byte(stdout), Stream: domain.StreamStdout,
		StartedAt: t0, EndedAt: t0.Add(300 * time.Millisecond),
	}
}

func golangciJSON(issues ...string) string {
	s := `{"Issues":[`
	for i, is := range issues {
		if i > 0 {
			s += ","
		}
		s += is
	}
	return s + `]}`
}

func issue(file string, line, col int, linter, text string) string {
	return fmt.Sprintf(`{"FromLinter":%q,"Text":%q,"Pos":{"Filename":%q,"Line":%d,"Column":%d}}`, linter, text, file, line, col)
}

func TestSameFindingFromTwoToolsIsReportedOnce(t *testing.T) {
	agg := newAggregator("vet", "lint")
	res := agg.Aggregate([]domain.Invocation{
		lintInv(golangciJSON(issue("main.go", 10, 2, "govet", "x declared and not used"))),
		vetInv("# example.com/demo\n./main.go:10:2: x declared and not used\n"),
	})

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, "main.go", f.Path)
	assert.Equal(t, 10, f.Line)
	assert.Equal(t, 2, f.Column)
	assert.Equal(t, domain.ToolID("vet"), f.Tool)
	assert.Equal(t, domain.ToolOK, res.Tools["vet"].Status)
	assert.Equal(t, domain.ToolOK, res.Tools["lint"].Status)
	assert.Equal(t, 1, res.Tools["vet"].Findings)
	assert.Equal(t, 1, res.Tools["lint"].Findings)
	assert.Equal(t, 1, res.Counts.Total)
	assert.Equal(t, int64(120), res.Tools["vet"].DurationMS)
}

func TestPriorityDecidesWhichToolKeepsADuplicate(t *testing.T) {
	invs := []domain.Invocation{
		vetInv("./main.go:10:2: x declared and not used\n"),
		lintInv(golangciJSON(issue("main.go", 10, 2, "govet", "x declared and not used"))),
	}
	res := newAggregator("lint", "vet").Aggregate(invs)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.ToolID("lint"), res.Findings[0].Tool)
	assert.Equal(t, "govet", res.Findings[0].Rule)
}

func TestAggregateIsUnionOfDistinctKeys(t *testing.T) {
	res := newAggregator("vet", "lint").Aggregate([]domain.Invocation{
		vetInv("./b.go:3:1: unreachable code\n./a.go:7:5: printf mismatch\n./a.go:7:5: printf mismatch\n"),
		lintInv(golangciJSON(
			issue("a.go", 7, 5, "govet", "printf mismatch"),
			issue("a.go", 7, 5, "errcheck", "error return value not checked"),
			issue("a.go", 2, 1, "typecheck", "undefined: foo"),
		)),
	})

	keys := map[domain.FindingKey]bool{}
	for _, f := range res.Findings {
		assert.False(t, keys[f.Key()], "duplicate %v", f)
		keys[f.Key()] = true
	}
	require.Len(t, res.Findings, 4)

	var order []string
	for _, f := range res.Findings {
		order = append(order, fmt.Sprintf("%s:%d:%d", f.Path, f.Line, f.Column))
	}
	assert.Equal(t, []string{"a.go:2:1", "a.go:7:5", "a.go:7:5", "b.go:3:1"}, order)
	assert.Equal(t, "error return value not checked", res.Findings[1].Message)
	assert.Equal(t, domain.SeverityCounts{Error: 1, Warning: 3, Total: 4}, res.Counts)
}

func TestAggregateIsRepeatable(t *testing.T) {
	agg := newAggregator("vet", "lint")
	invs := []domain.Invocation{
		vetInv("./z.go:1:1: z\n./a.go:1:1: a\n"),
		lintInv(golangciJSON(issue("m.go", 4, 2, "unused", "m unused"), issue("a.go", 1, 1, "govet", "a"))),
	}
	first := agg.Aggregate(invs)
	second := agg.Aggregate([]domain.Invocation{invs[1], invs[0]})
	assert.Equal(t, first, second)
}

func TestTimedOutToolIsReportedWithoutFindings(t *testing.T) {
	res := newAggregator("vet", "lint").Aggregate([]domain.Invocation{
		vetInv("./main.go:1:1: something\n"),
		{Tool: "lint", Status: domain.InvocationTimeout, StartedAt: t0, EndedAt: t0.Add(2 * time.Second), Err: domain.ErrTimeout},
	})
	assert.Equal(t, domain.ToolTimeout, res.Tools["lint"].Status)
	assert.Equal(t, "timed out after 2s", res.Tools["lint"].Error)
	assert.Equal(t, domain.ToolOK, res.Tools["vet"].Status)
	assert.Len(t, res.Findings, 1)
}

func TestFailedTools(t *testing.T) {
	agg := newAggregator("vet", "lint")
	cases := []struct {
		name string
		inv  domain.Invocation
		want string
	}{
		{
			name: "launch failure",
			inv:  domain.Invocation{Tool: "lint", Status: domain.InvocationFailed, ExitCode: -1, Err: fmt.Errorf("%w: lint: exec: not found", domain.ErrToolExecutionFailed)},
			want: "tool execution failed: lint: exec: not found",
		},
		{
			name: "exit without findings",
			inv: domain.Invocation{Tool: "lint", Status: domain.InvocationExited, ExitCode: 3,
				Stdout: []byte(`{"Issues":[]}`), Stderr: []byte("level=error msg=\"config invalid\"")},
			want: `tool execution failed: exit status 3 without findings: level=error msg="config invalid"`,
		},
		{
			name: "garbage output",
			inv:  domain.Invocation{Tool: "lint", Status: domain.InvocationExited, ExitCode: 1, Stdout: []byte("panic: boom")},
		},
		{
			name: "canceled",
			inv:  domain.Invocation{Tool: "lint", Status: domain.InvocationCanceled, Err: domain.ErrCanceled},
			want: "canceled",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := agg.Aggregate([]domain.Invocation{tc.inv})
			rep := res.Tools["lint"]
			assert.Equal(t, domain.ToolFailed, rep.Status)
			assert.Empty(t, res.Findings)
			assert.NotNil(t, res.Findings)
			if tc.want != "" {
				assert.Equal(t, tc.want, rep.Error)
			} else {
				assert.Contains(t, rep.Error, domain.ErrToolExecutionFailed.Error())
			}
		})
	}
}

func TestCleanRunWithNoFindingsIsOK(t *testing.T) {
	res := newAggregator().Aggregate([]domain.Invocation{
		{Tool: "vet", Status: domain.InvocationExited, ExitCode: 0, Stream: domain.StreamStderr},
		{Tool: "lint", Status: domain.InvocationExited, ExitCode: 0, Stdout: []byte(`{"Issues":null}`)},
	})
	assert.Equal(t, domain.ToolOK, res.Tools["vet"].Status)
	assert.Equal(t, domain.ToolOK, res.Tools["lint"].Status)
	assert.Equal(t, []domain.Finding{}, res.Findings)
	assert.Empty(t, res.Failed())
}

func TestCleanVetWithDownloadNoticesIsOK(t *testing.T) {
	res := newAggregator().Aggregate([]domain.Invocation{{
		Tool: "vet", Status: domain.InvocationExited, ExitCode: 0, Stream: domain.StreamStderr,
		Stderr: []byte("go: downloading github.com/stretchr/testify v1.9.0\ngo: downloading golang.org/x/sync v0.19.0\n"),
	}})
	rep := res.Tools["vet"]
	assert.Equal(t, domain.ToolOK, rep.Status)
	assert.Empty(t, rep.Error)
	assert.Equal(t, 0, rep.Findings)
	assert.Empty(t, res.Failed())
}

func TestUnrecognisedOutputWithCleanExitIsOK(t *testing.T) {
	res := newAggregator().Aggregate([]domain.Invocation{{
		Tool: "vet", Status: domain.InvocationExited, ExitCode: 0, Stream: domain.StreamStderr,
		Stderr: []byte("warning: GOPATH set to GOROOT has no effect\n"),
	}})
	assert.Equal(t, domain.ToolOK, res.Tools["vet"].Status)
	assert.Equal(t, []domain.Finding{}, res.Findings)
}

func TestKeptCountsSumToTotal(t *testing.T) {
	agg := newAggregator("vet", "lint")
	res := agg.Aggregate([]domain.Invocation{
		lintInv(golangciJSON(
			issue("main.go", 10, 2, "govet", "x declared and not used"),
			issue("main.go", 20, 1, "errcheck", "Error return value is not checked"),
		)),
		vetInv("./main.go:10:2: x declared and not used\n"),
	})

	require.Equal(t, 2, res.Counts.Total)
	assert.Equal(t, 1, res.Tools["vet"].Findings)
	assert.Equal(t, 1, res.Tools["vet"].Kept)
	assert.Equal(t, 2, res.Tools["lint"].Findings)
	assert.Equal(t, 1, res.Tools["lint"].Kept)
	assert.Equal(t, res.Counts.Total, res.Tools["vet"].Kept+res.Tools["lint"].Kept)
}

func TestMissingParser(t *testing.T) {
	agg := &Aggregator{Parsers: func(domain.ToolID, string) (domain.Parser, error) {
		return nil, errors.New("unsupported output format: xml")
	}}
	res := agg.Aggregate([]domain.Invocation{{Tool: "x", Status: domain.InvocationExited}})
	assert.Equal(t, domain.ToolFailed, res.Tools["x"].Status)
	assert.Contains(t, res.Tools["x"].Error, "unsupported output format")
}
