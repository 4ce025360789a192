package orchestrator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

// markerPrefix starts the hidden marker that ties a request body to its ref.
const markerPrefix = "<!-- bicepmigrate:ref="

// Title returns the request title for the published sources.
func Title(shortRef string, sources []string) string {
	title := "Azure Migration: auto-generated Bicep templates"
	if dir := migration.CommonDir(sources); dir != "." {
		title += " in " + dir
	}
	return fmt.Sprintf("%s (%s)", title, shortRef)
}

// Marker returns the hidden body marker for ref.
func Marker(ref string) string {
	return markerPrefix + ref + " -->"
}

// Body renders the request description. It only depends on its inputs, so a rerun with
// the same artifacts produces the same body and the request is left untouched.
// onBranch holds the artifact paths already on the branch; a file that failed this run
// but has one there is reported as kept rather than as not migrated.
func Body(ref string, files []FileOutcome, onBranch map[string]string) string {
	var published, kept, failed []FileOutcome
	for _, f := range files {
		switch {
		case f.Failure == nil && f.Artifact != nil:
			published = append(published, f)
		case f.Failure == nil:
		case onBranch[f.Path] != "":
			kept = append(kept, f)
		default:
			failed = append(failed, f)
		}
	}

	var b strings.Builder
	b.WriteString("## Azure Migration\n\n")
	fmt.Fprintf(&b, "Automated migration of %d file(s) at `%s` to Azure Bicep.\n", len(published), ref)
	b.WriteString("Please review the generated `.bicep` files and the cost estimate before merging.\n")

	for _, f := range published {
		writeArtifact(&b, f)
	}

	if len(kept) > 0 {
		b.WriteString("\n### Not regenerated in this run\n\n")
		for _, f := range kept {
			fmt.Fprintf(&b, "- `%s`: %s; `%s` from an earlier run is unchanged\n", f.Source, f.Failure.Error(), f.Path)
		}
	}

	if len(failed) > 0 {
		b.WriteString("\n### Not migrated\n\n")
		for _, f := range failed {
			fmt.Fprintf(&b, "- `%s`: %s\n", f.Source, f.Failure.Error())
		}
	}

	b.WriteString("\n")
	b.WriteString(Marker(ref))
	b.WriteString("\n")
	return b.String()
}

func writeArtifact(b *strings.Builder, f FileOutcome) {
	a := f.Artifact
	fmt.Fprintf(b, "\n### `%s` → `%s`\n\n", f.Source, f.Path)

	b.WriteString("#### Summary\n\n")
	b.WriteString(strings.TrimSpace(a.Summary))
	b.WriteString("\n\n")

	b.WriteString("#### Resource Mapping\n\n")
	b.WriteString("| Original Resource | Azure Equivalent | Rationale |\n")
	b.WriteString("|---|---|---|\n")
	for _, row := range a.Mapping {
		fmt.Fprintf(b, "| %s | %s | %s |\n", cell(row.Source), cell(row.Target), cell(row.Rationale))
	}

	b.WriteString("\n#### Estimated Monthly Cost\n\n")
	b.WriteString("| Resource | SKU | Estimated Cost |\n")
	b.WriteString("|---|---|---|\n")
	for _, row := range a.Costs {
		fmt.Fprintf(b, "| %s | %s | %s |\n", cell(row.Resource), cell(row.SKU), money(row.MonthlyCost))
	}
	fmt.Fprintf(b, "| **Total** | | **%s** |\n", money(a.Total))

	if d := strings.TrimSpace(a.Deployment); d != "" {
		b.WriteString("\n#### Deployment Instructions\n\n")
		b.WriteString(d)
		b.WriteString("\n")
	}
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// CommitMessage describes a commit of changed artifact paths.
func CommitMessage(shortRef string, paths []string) string {
	if len(paths) == 1 {
		return fmt.Sprintf("feat: add Azure Bicep template %s (%s)", paths[0], shortRef)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "feat: add %d Azure Bicep templates (%s)\n\n", len(paths), shortRef)
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

// failureOf returns f's failure kind or "".
func failureOf(f *migration.Failure) string {
	if f == nil {
		return ""
	}
	return string(f.Kind)
}
