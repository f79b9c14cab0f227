package core

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultDelimiter separates fields in the raw input file.
const DefaultDelimiter = '|'

// MaxRecordedRejections caps the per-row rejection details kept in ParseStats.
// Rejections beyond the cap are still counted.
var MaxRecordedRejections = 100

// MalformedPolicy decides what happens to a row that does not match the header.
type MalformedPolicy string

const (
	// PolicySkip rejects and counts the row, then continues.
	PolicySkip MalformedPolicy = "skip"
	// PolicyAbort fails the parse with ErrMalformedRow.
	PolicyAbort MalformedPolicy = "abort"
)

// ParsePolicy converts a config value; unknown values fall back to PolicySkip.
func ParsePolicy(s string) MalformedPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(PolicyAbort)) {
		return PolicyAbort
	}
	return PolicySkip
}

// ParserOptions configures a Parser. The zero value parses '|' with PolicySkip.
type ParserOptions struct {
	Delimiter rune
	Policy    MalformedPolicy
}

// Row is one accepted data line. Fields are positionally aligned with
// Parser.Columns; an empty field is NULL (Valid=false).
type Row struct {
	Line   int
	Fields []pgtype.Text
}

// Values returns the row in the form pgx.CopyFromRows expects.
func (r Row) Values() []any {
	vals := make([]any, len(r.Fields))
	for i, f := range r.Fields {
		vals[i] = f
	}
	return vals
}

// Rejection describes one rejected input line.
type Rejection struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ParseStats is the running tally of a parse.
type ParseStats struct {
	Accepted   int         `json:"accepted"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// RowSource is a single-pass stream of rows with a fixed column list.
type RowSource interface {
	Columns() []string
	Next() (Row, error) // io.EOF when exhausted
	Stats() ParseStats
}

// Parser reads delimited text into Rows. It is lazy, forward-only and not
// restartable; it is not safe for concurrent use.
type Parser struct {
	r       *bufio.Reader
	delim   rune
	line    int
	closer  io.Closer
	raw     []string
	columns []string
	policy  MalformedPolicy
	stats   ParseStats
}

// OpenParser opens path and reads its header.
// It fails with ErrInputNotFound when path does not exist.
func OpenParser(path string, opts ParserOptions) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewError(ErrInputNotFound, "open "+path, err)
		}
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}

	p, err := NewParser(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// NewParser reads the header from r. It fails with ErrEmptyInput when r
// holds no header line. A leading UTF-8 BOM is dropped and invalid UTF-8 is
// replaced with U+FFFD.
//
// Each physical line is one record. Quoting follows encoding/csv within a
// line, but a quoted field never spans lines, so an unbalanced quote costs
// only the line it appears on.
func NewParser(r io.Reader, opts ParserOptions) (*Parser, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}

	p := &Parser{
		r:      bufio.NewReader(transform.NewReader(r, xunicode.UTF8BOM.NewDecoder())),
		delim:  opts.Delimiter,
		policy: opts.Policy,
	}

	text, err := p.readLine()
	if err == io.EOF {
		return nil, NewError(ErrEmptyInput, "read header", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := p.split(text)
	if err != nil {
		return nil, NewError(ErrMalformedRow, "read header", err)
	}

	raw := make([]string, len(header))
	blank := true
	for i, h := range header {
		raw[i] = strings.TrimSpace(h)
		if raw[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, NewError(ErrEmptyInput, "read header", errors.New("header line is blank"))
	}

	p.raw = raw
	p.columns = SanitizeHeader(raw)
	return p, nil
}

// readLine returns the next non-empty physical line without its line ending.
func (p *Parser) readLine() (string, error) {
	for {
		text, err := p.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if text == "" && err == io.EOF {
			return "", io.EOF
		}
		p.line++
		text = strings.TrimRight(text, "\r\n")
		if text != "" {
			return text, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// split decodes the fields of a single line.
func (p *Parser) split(text string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = p.delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	record, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Err
		}
		return nil, err
	}
	return record, nil
}

// Columns returns the sanitized column names.
func (p *Parser) Columns() []string { return p.columns }

// RawHeader returns the header tokens as they appeared in the file.
func (p *Parser) RawHeader() []string { return p.raw }

// Stats returns a copy of the running counts.
func (p *Parser) Stats() ParseStats {
	s := p.stats
	s.Rejections = append([]Rejection(nil), p.stats.Rejections...)
	return s
}

// Next returns the next accepted row, or io.EOF when the input is exhausted.
// Rejected rows are counted and skipped; under PolicyAbort the first one
// ends the parse with ErrMalformedRow.
func (p *Parser) Next() (Row, error) {
	for {
		text, err := p.readLine()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		if err != nil {
			return Row{}, fmt.Errorf("read input: %w", err)
		}
		line := p.line

		record, err := p.split(text)
		if err != nil {
			if err := p.reject(line, err.Error()); err != nil {
				return Row{}, err
			}
			continue
		}

		if len(record) != len(p.columns) {
			reason := fmt.Sprintf("expected %d fields, got %d", len(p.columns), len(record))
			if err := p.reject(line, reason); err != nil {
				return Row{}, err
			}
			continue
		}

		fields := make([]pgtype.Text, len(record))
		blank := true
		for i, cell := range record {
			fields[i] = toText(cell)
			if fields[i].Valid {
				blank = false
			}
		}
		if blank {
			if err := p.reject(line, "blank row"); err != nil {
				return Row{}, err
			}
			continue
		}

		p.stats.Accepted++
		return Row{Line: line, Fields: fields}, nil
	}
}

// Close releases the underlying file when the parser was opened from a path.
func (p *Parser) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *Parser) reject(line int, reason string) error {
	p.stats.Rejected++
	if len(p.stats.Rejections) < MaxRecordedRejections {
		p.stats.Rejections = append(p.stats.Rejections, Rejection{Line: line, Reason: reason})
	}
	if p.policy == PolicyAbort {
		return NewError(ErrMalformedRow, fmt.Sprintf("line %d", line), errors.New(reason))
	}
	return nil
}

// toText trims a cell; empty cells become NULL.
func toText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
