package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads every row from p as strings, NULL as "<nil>".
func drain(t *testing.T, p *Parser) [][]string {
	t.Helper()
	var out [][]string
	for {
		row, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		vals := make([]string, len(row.Fields))
		for i, f := range row.Fields {
			if f.Valid {
				vals[i] = f.String
			} else {
				vals[i] = "<nil>"
			}
		}
		out = append(out, vals)
	}
}

func TestParser_WellFormed(t *testing.T) {
	p, err := NewParser(strings.NewReader("NAME|CITY\nAcme|NY\nBeta|LA\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"NAME", "CITY"}, p.Columns())
	assert.Equal(t, [][]string{{"Acme", "NY"}, {"Beta", "LA"}}, drain(t, p))

	stats := p.Stats()
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 0, stats.Rejected)
}

func TestParser_SkipsMalformedRow(t *testing.T) {
	p, err := NewParser(strings.NewReader("A|B\n1|2\nBadRow\n3|4\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, drain(t, p))

	stats := p.Stats()
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	require.Len(t, stats.Rejections, 1)
	assert.Equal(t, 3, stats.Rejections[0].Line)
	assert.Contains(t, stats.Rejections[0].Reason, "expected 2 fields, got 1")
}

func TestParser_AbortPolicy(t *testing.T) {
	p, err := NewParser(strings.NewReader("A|B\n1|2\n1|2|3\n4|5\n"), ParserOptions{Policy: PolicyAbort})
	require.NoError(t, err)

	_, err = p.Next()
	require.NoError(t, err)

	_, err = p.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRow)
	assert.Contains(t, err.Error(), "line 3")
}

func TestParser_CountInvariant(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		dataLines int
	}{
		{name: "all good", input: "A|B\n1|2\n3|4\n", dataLines: 2},
		{name: "too many fields", input: "A|B\n1|2|3\n3|4\n", dataLines: 2},
		{name: "too few and blank cells", input: "A|B\n1\n|\n5|6\n", dataLines: 3},
		{name: "no trailing newline", input: "A|B\n1|2\n3", dataLines: 2},
		{name: "crlf", input: "A|B\r\n1|2\r\n3|4\r\n", dataLines: 2},
		{name: "empty lines ignored", input: "A|B\n\n1|2\n\n", dataLines: 1},
		{name: "header only", input: "A|B\n", dataLines: 0},
		{name: "stray quote", input: "A|B\n\"1|2\n3|4\n5|6\n", dataLines: 3},
		{name: "quote mid field", input: "A|B\n1\"x|2\n3|\"4\n", dataLines: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParser(strings.NewReader(tt.input), ParserOptions{})
			require.NoError(t, err)
			rows := drain(t, p)

			stats := p.Stats()
			assert.Equal(t, len(rows), stats.Accepted)
			assert.Equal(t, tt.dataLines, stats.Accepted+stats.Rejected)
		})
	}
}

func TestParser_UnclosedQuoteOnlyCostsItsLine(t *testing.T) {
	p, err := NewParser(strings.NewReader("NAME|CITY\n\"Acme|NY\nBeta|LA\nGamma|SF\nDelta|TX\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Beta", "LA"}, {"Gamma", "SF"}, {"Delta", "TX"}}, drain(t, p))

	stats := p.Stats()
	assert.Equal(t, 3, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	require.Len(t, stats.Rejections, 1)
	assert.Equal(t, 2, stats.Rejections[0].Line)
}

func TestParser_QuotedFieldDoesNotSpanLines(t *testing.T) {
	p, err := NewParser(strings.NewReader("A|B\n1|\"two\nlines\"\n3|4\n"), ParserOptions{})
	require.NoError(t, err)

	rows := drain(t, p)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"3", "4"}, rows[len(rows)-1])

	stats := p.Stats()
	assert.Equal(t, 3, stats.Accepted+stats.Rejected)
}

func TestParser_BlankRowRejected(t *testing.T) {
	p, err := NewParser(strings.NewReader("A|B\n | \n1|2\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"1", "2"}}, drain(t, p))
	stats := p.Stats()
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, "blank row", stats.Rejections[0].Reason)
}

func TestParser_EmptyCellsAreNull(t *testing.T) {
	p, err := NewParser(strings.NewReader("A|B|C\nx||  z  \n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"x", "<nil>", "z"}}, drain(t, p))
}

func TestParser_QuotedDelimiter(t *testing.T) {
	p, err := NewParser(strings.NewReader("NAME|NOTE\nAcme|\"a|b\"\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Acme", "a|b"}}, drain(t, p))
}

func TestParser_CustomDelimiter(t *testing.T) {
	p, err := NewParser(strings.NewReader("a;b\n1;2\n"), ParserOptions{Delimiter: ';'})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, p.Columns())
	assert.Equal(t, [][]string{{"1", "2"}}, drain(t, p))
}

func TestParser_StripsBOM(t *testing.T) {
	input := "\xEF\xBB\xBFName|City\nAcme|NY\n"
	p, err := NewParser(strings.NewReader(input), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"NAME", "CITY"}, p.Columns())
	assert.Equal(t, []string{"Name", "City"}, p.RawHeader())
}

func TestParser_InvalidUTF8Replaced(t *testing.T) {
	p, err := NewParser(strings.NewReader("A\nab\xffc\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"ab�c"}}, drain(t, p))
}

func TestParser_HeaderCollisions(t *testing.T) {
	p, err := NewParser(strings.NewReader("Name|name|Zip Code\n1|2|3\n"), ParserOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"NAME", "NAME_2", "ZIP_CODE"}, p.Columns())
}

func TestParser_EmptyInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "zero bytes", input: ""},
		{name: "only newlines", input: "\n\n"},
		{name: "only BOM", input: "\xEF\xBB\xBF"},
		{name: "blank header", input: " | \n1|2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(strings.NewReader(tt.input), ParserOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEmptyInput)
		})
	}
}

func TestOpenParser(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := OpenParser(filepath.Join(t.TempDir(), "nope.dsv"), ParserOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInputNotFound)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "RAW DATA.dsv")
		require.NoError(t, os.WriteFile(path, []byte("NAME|CITY\nAcme|NY\n"), 0o644))

		p, err := OpenParser(path, ParserOptions{})
		require.NoError(t, err)
		defer p.Close()

		assert.Equal(t, [][]string{{"Acme", "NY"}}, drain(t, p))
	})
}

func TestParser_RejectionDetailsCapped(t *testing.T) {
	old := MaxRecordedRejections
	MaxRecordedRejections = 2
	t.Cleanup(func() { MaxRecordedRejections = old })

	p, err := NewParser(strings.NewReader("A|B\nx\ny\nz\n1|2\n"), ParserOptions{})
	require.NoError(t, err)
	drain(t, p)

	stats := p.Stats()
	assert.Equal(t, 3, stats.Rejected)
	assert.Len(t, stats.Rejections, 2)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyAbort, ParsePolicy("abort"))
	assert.Equal(t, PolicyAbort, ParsePolicy(" ABORT "))
	assert.Equal(t, PolicySkip, ParsePolicy("skip"))
	assert.Equal(t, PolicySkip, ParsePolicy(""))
}
