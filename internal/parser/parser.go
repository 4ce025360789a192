package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

// Section headers of the output contract, in the required order.
const (
	SectionSummary    = "Migration Summary"
	SectionMapping    = "Resource Mapping"
	SectionCost       = "Azure Cost Estimate (Monthly)"
	SectionCode       = "Generated Bicep Code"
	SectionDeployment = "Deployment Instructions"
)

// DefaultArtifactPath is the path given to the generated template before the
// orchestrator places it next to its source.
const DefaultArtifactPath = "main.bicep"

var sectionOrder = []string{SectionSummary, SectionMapping, SectionCost, SectionCode, SectionDeployment}

var (
	mappingColumns = []string{"Original Resource", "Azure Equivalent", "Rationale"}
	costColumns    = []string{"Resource", "SKU", "Estimated Cost"}
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

type section struct {
	title     string
	blocks    []ast.Node
	bodyStart int
	bodyEnd   int
}

func (s *section) body(src []byte) string {
	if s.bodyStart < 0 || s.bodyStart > s.bodyEnd {
		return ""
	}
	return strings.TrimSpace(string(src[s.bodyStart:s.bodyEnd]))
}

// Parse validates raw model output against the output contract and extracts the artifact.
// Any violation returns a *migration.Failure of kind MalformedOutput naming the section;
// no partial artifact is ever returned.
func Parse(raw string) (*migration.Artifact, error) {
	src := []byte(raw)
	doc := markdown.Parser().Parse(text.NewReader(src))

	sections := splitSections(doc, src)
	if err := checkOrder(sections); err != nil {
		return nil, err
	}

	mapping, err := parseMapping(sections[1], src)
	if err != nil {
		return nil, err
	}

	costs, total, err := parseCosts(sections[2], src)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(mapping))
	for _, m := range mapping {
		known[m.Source] = true
	}
	for _, c := range costs {
		if !known[c.Resource] {
			return nil, migration.Malformed(SectionCost, "cost row %q has no matching resource in %s", c.Resource, SectionMapping)
		}
	}

	code, err := parseCode(sections[3], src)
	if err != nil {
		return nil, err
	}

	return &migration.Artifact{
		Summary:    sections[0].body(src),
		Deployment: sections[4].body(src),
		Mapping:    mapping,
		Costs:      costs,
		Total:      total,
		Files:      []migration.GeneratedFile{{Path: DefaultArtifactPath, Content: code}},
	}, nil
}

// splitSections groups top-level blocks under their level-2 heading.
// Content before the first level-2 heading is ignored.
func splitSections(doc ast.Node, src []byte) []*section {
	var sections []*section
	var cur *section

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 2 {
			lineStart, lineEnd := headingBounds(h, src)
			if cur != nil && lineStart >= 0 {
				cur.bodyEnd = lineStart
			}
			cur = &section{
				title:     inlineText(h, src),
				bodyStart: lineEnd,
				bodyEnd:   len(src),
			}
			sections = append(sections, cur)
			continue
		}
		if cur != nil {
			cur.blocks = append(cur.blocks, n)
		}
	}

	return sections
}

// headingBounds returns the offsets of the start of the heading line and of the byte
// following it. Headings without text report -1.
func headingBounds(h *ast.Heading, src []byte) (int, int) {
	lines := h.Lines()
	if lines == nil || lines.Len() == 0 {
		return -1, -1
	}
	seg := lines.At(0)
	start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
	end := len(src)
	if nl := bytes.IndexByte(src[seg.Stop:], '\n'); nl >= 0 {
		end = seg.Stop + nl + 1
	}
	return start, end
}

func checkOrder(sections []*section) error {
	for i, want := range sectionOrder {
		if i >= len(sections) {
			return migration.Malformed(want, "section missing")
		}
		got := sections[i].title
		if got == want {
			continue
		}
		if indexOf(sectionOrder, got) >= 0 {
			return migration.Malformed(want, "section out of order: found %q where %q was expected", got, want)
		}
		return migration.Malformed(want, "unexpected section %q where %q was expected", got, want)
	}
	if len(sections) > len(sectionOrder) {
		extra := sections[len(sectionOrder)].title
		return migration.Malformed(extra, "unexpected section %q after %q", extra, SectionDeployment)
	}
	return nil
}

func parseMapping(s *section, src []byte) ([]migration.MappingRow, error) {
	header, rows, err := findTable(s, src)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(SectionMapping, header, mappingColumns); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, migration.Malformed(SectionMapping, "table has no rows")
	}

	mapping := make([]migration.MappingRow, 0, len(rows))
	for i, r := range rows {
		if len(r) < len(mappingColumns) || r[0] == "" || r[1] == "" {
			return nil, migration.Malformed(SectionMapping, "row %d is incomplete", i+1)
		}
		mapping = append(mapping, migration.MappingRow{Source: r[0], Target: r[1], Rationale: r[2]})
	}
	return mapping, nil
}

func parseCosts(s *section, src []byte) ([]migration.CostRow, decimal.Decimal, error) {
	header, rows, err := findTable(s, src)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := checkColumns(SectionCost, header, costColumns); err != nil {
		return nil, decimal.Zero, err
	}

	var costs []migration.CostRow
	var total *decimal.Decimal

	for i, r := range rows {
		if len(r) < len(costColumns) {
			return nil, decimal.Zero, migration.Malformed(SectionCost, "row %d is incomplete", i+1)
		}
		if total != nil {
			return nil, decimal.Zero, migration.Malformed(SectionCost, "row %d follows the Total row", i+1)
		}

		amount, err := parseCost(r[2])
		if err != nil {
			return nil, decimal.Zero, migration.Malformed(SectionCost, "row %d: %v", i+1, err)
		}

		if strings.EqualFold(r[0], "Total") {
			total = &amount
			continue
		}
		if r[0] == "" {
			return nil, decimal.Zero, migration.Malformed(SectionCost, "row %d has no resource", i+1)
		}
		costs = append(costs, migration.CostRow{Resource: r[0], SKU: r[1], MonthlyCost: amount})
	}

	if total == nil {
		return nil, decimal.Zero, migration.Malformed(SectionCost, "missing **Total** row")
	}
	return costs, *total, nil
}

var (
	costSuffix = regexp.MustCompile(`(?i)\s*(/\s*(month|mo)|usd)\s*$`)
	costNumber = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// parseCost accepts "$1,234.50", "12 USD", "$30/month" and rejects negatives and prose.
func parseCost(cell string) (decimal.Decimal, error) {
	s := strings.TrimSpace(cell)
	for {
		trimmed := costSuffix.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "USD"), "$"))
	s = strings.ReplaceAll(s, ",", "")

	if !costNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("cost %q is not a non-negative decimal", cell)
	}
	return decimal.NewFromString(s)
}

func parseCode(s *section, src []byte) (string, error) {
	var blocks []*ast.FencedCodeBlock
	for _, b := range s.blocks {
		ast.Walk(b, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if fcb, ok := n.(*ast.FencedCodeBlock); ok && entering {
				blocks = append(blocks, fcb)
				return ast.WalkSkipChildren, nil
			}
			return ast.WalkContinue, nil
		})
	}

	switch len(blocks) {
	case 0:
		return "", migration.Malformed(SectionCode, "fenced code block missing")
	case 1:
	default:
		return "", migration.Malformed(SectionCode, "expected exactly one fenced code block, found %d", len(blocks))
	}

	fcb := blocks[0]
	if lang := string(fcb.Language(src)); !strings.EqualFold(lang, "bicep") {
		return "", migration.Malformed(SectionCode, "code block tagged %q, want %q", lang, "bicep")
	}

	var buf bytes.Buffer
	lines := fcb.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}

	code := buf.String()
	if err := CheckBicep(code); err != nil {
		return "", migration.Malformed(SectionCode, "%v", err)
	}
	return code, nil
}

// findTable returns the first table in a section as header cells and row cells.
func findTable(s *section, src []byte) ([]string, [][]string, error) {
	for _, b := range s.blocks {
		tbl, ok := b.(*east.Table)
		if !ok {
			continue
		}

		var header []string
		var rows [][]string
		for n := tbl.FirstChild(); n != nil; n = n.NextSibling() {
			var cells []string
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				cells = append(cells, inlineText(c, src))
			}
			switch n.(type) {
			case *east.TableHeader:
				header = cells
			case *east.TableRow:
				rows = append(rows, cells)
			}
		}
		return header, rows, nil
	}
	return nil, nil, migration.Malformed(s.title, "table missing")
}

func checkColumns(sectionName string, got, want []string) error {
	if len(got) != len(want) {
		return migration.Malformed(sectionName, "table has columns %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			return migration.Malformed(sectionName, "table has columns %q, want %q", got, want)
		}
	}
	return nil
}

// inlineText returns the plain text of n's inline children, with emphasis and code
// markers removed.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	writeText(&sb, n, src)
	return strings.TrimSpace(sb.String())
}

func writeText(sb *strings.Builder, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.Label(src))
		default:
			writeText(sb, c, src)
		}
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
