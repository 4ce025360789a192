package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/drewdunne/bicepmigrate/internal/generate"
	"github.com/drewdunne/bicepmigrate/internal/migration"
)

//go:embed templates/azure_migration_architect.md
var defaultTemplate string

// DefaultTemplate returns the built-in Azure migration prompt.
func DefaultTemplate() string { return defaultTemplate }

// Placeholders substituted by Render.
const (
	PlaceholderCode    = "{{original_code}}"
	PlaceholderProject = "{{project_context}}"
	PlaceholderPath    = "{{file_path}}"
	PlaceholderKind    = "{{file_kind}}"
)

// Builder renders generation requests from a fixed template.
type Builder struct {
	template string
}

// NewBuilder creates a builder. An empty template selects the default.
func NewBuilder(template string) *Builder {
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	return &Builder{template: template}
}

// Build renders the request for one changed file.
func (b *Builder) Build(file migration.ChangedFile, project generate.Project) generate.Request {
	return Render(b.template, file, project)
}

// Render is a pure function of its inputs. A template without the code placeholder gets
// the file appended so the model always sees it.
func Render(template string, file migration.ChangedFile, project generate.Project) generate.Request {
	code := fenced(file)
	if !strings.Contains(template, PlaceholderCode) {
		template += "\n\n" + PlaceholderCode + "\n"
	}

	r := strings.NewReplacer(
		PlaceholderCode, code,
		PlaceholderProject, projectContext(project),
		PlaceholderPath, file.Path,
		PlaceholderKind, string(file.Kind),
	)

	return generate.Request{
		Prompt:     r.Replace(template),
		Project:    project,
		SourcePath: file.Path,
	}
}

func fenced(file migration.ChangedFile) string {
	lang := ""
	switch file.Kind {
	case migration.KindTerraform:
		lang = "hcl"
	case migration.KindDockerfile:
		lang = "dockerfile"
	}

	// Use a fence longer than any backtick run in the content.
	fence := "```"
	for strings.Contains(file.Content, fence) {
		fence += "`"
	}

	return fmt.Sprintf("### File: %s\n%s%s\n%s\n%s", file.Path, fence, lang, strings.TrimRight(file.Content, "\n"), fence)
}

func projectContext(p generate.Project) string {
	data, _ := json.MarshalIndent(p, "", "  ")
	return "```json\n" + string(data) + "\n```"
}
