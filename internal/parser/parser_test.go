package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

const validBicep = `param location string = resourceGroup().location

resource storage 'Microsoft.Storage/storageAccounts@2023-01-01' = {
  name: 'st${uniqueString(resourceGroup().id)}'
  location: location
  sku: {
    name: 'Standard_LRS'
  }
  kind: 'StorageV2'
}

output id string = storage.id
`

const validOutput = "# Azure Migration\n\n" +
	"## Migration Summary\n\n" +
	"The S3 bucket maps to a storage account.\n\n" +
	"## Resource Mapping\n\n" +
	"| Original Resource | Azure Equivalent | Rationale |\n" +
	"|---|---|---|\n" +
	"| `aws_s3_bucket.assets` | Storage Account | Blob storage |\n" +
	"| aws_cloudfront_distribution.cdn | Front Door | Global edge |\n\n" +
	"## Azure Cost Estimate (Monthly)\n\n" +
	"| Resource | SKU | Estimated Cost |\n" +
	"|---|---|---|\n" +
	"| `aws_s3_bucket.assets` | Standard_LRS | $21.50 |\n" +
	"| aws_cloudfront_distribution.cdn | Standard | $1,035.00/month |\n" +
	"| **Total** | | **$1,056.50** |\n\n" +
	"## Generated Bicep Code\n\n" +
	"```bicep\n" + validBicep + "```\n\n" +
	"## Deployment Instructions\n\n" +
	"1. Run `az deployment group create`.\n"

func TestParse_Valid(t *testing.T) {
	art, err := Parse(validOutput)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if art.Summary != "The S3 bucket maps to a storage account." {
		t.Errorf("Summary = %q", art.Summary)
	}
	if art.Deployment != "1. Run `az deployment group create`." {
		t.Errorf("Deployment = %q", art.Deployment)
	}

	if len(art.Mapping) != 2 {
		t.Fatalf("len(Mapping) = %d, want 2", len(art.Mapping))
	}
	if art.Mapping[0].Source != "aws_s3_bucket.assets" || art.Mapping[0].Target != "Storage Account" {
		t.Errorf("Mapping[0] = %+v", art.Mapping[0])
	}

	if len(art.Costs) != 2 {
		t.Fatalf("len(Costs) = %d, want 2", len(art.Costs))
	}
	if !art.Costs[1].MonthlyCost.Equal(decimal.RequireFromString("1035")) {
		t.Errorf("Costs[1].MonthlyCost = %s, want 1035", art.Costs[1].MonthlyCost)
	}
	if !art.Total.Equal(decimal.RequireFromString("1056.50")) {
		t.Errorf("Total = %s, want 1056.50", art.Total)
	}

	if len(art.Files) != 1 || art.Files[0].Content != validBicep {
		t.Errorf("Files = %+v", art.Files)
	}
	if art.Files[0].Path != DefaultArtifactPath {
		t.Errorf("Files[0].Path = %q, want %q", art.Files[0].Path, DefaultArtifactPath)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		section string
	}{
		{
			name: "missing cost section",
			mutate: func(s string) string {
				start := strings.Index(s, "## Azure Cost Estimate")
				end := strings.Index(s, "## Generated Bicep Code")
				return s[:start] + s[end:]
			},
			section: SectionCost,
		},
		{
			name: "sections out of order",
			mutate: func(s string) string {
				s = strings.Replace(s, "## Resource Mapping", "## placeholder", 1)
				s = strings.Replace(s, "## Migration Summary", "## Resource Mapping", 1)
				return strings.Replace(s, "## placeholder", "## Migration Summary", 1)
			},
			section: SectionSummary,
		},
		{
			name: "extra section",
			mutate: func(s string) string {
				return s + "\n## Notes\n\nnothing\n"
			},
			section: "Notes",
		},
		{
			name: "wrong mapping columns",
			mutate: func(s string) string {
				return strings.Replace(s, "| Original Resource | Azure Equivalent | Rationale |", "| Source | Target | Why |", 1)
			},
			section: SectionMapping,
		},
		{
			name: "negative cost",
			mutate: func(s string) string {
				return strings.Replace(s, "$21.50", "-21.50", 1)
			},
			section: SectionCost,
		},
		{
			name: "non-numeric cost",
			mutate: func(s string) string {
				return strings.Replace(s, "$21.50", "about twenty", 1)
			},
			section: SectionCost,
		},
		{
			name: "missing total row",
			mutate: func(s string) string {
				return strings.Replace(s, "| **Total** | | **$1,056.50** |\n", "", 1)
			},
			section: SectionCost,
		},
		{
			name: "cost resource not in mapping",
			mutate: func(s string) string {
				return strings.Replace(s, "| aws_cloudfront_distribution.cdn | Standard |", "| aws_lambda_function.api | Standard |", 1)
			},
			section: SectionCost,
		},
		{
			name: "wrong code language",
			mutate: func(s string) string {
				return strings.Replace(s, "```bicep", "```json", 1)
			},
			section: SectionCode,
		},
		{
			name: "two code blocks",
			mutate: func(s string) string {
				return strings.Replace(s, "## Deployment Instructions", "```bicep\nparam x int\n```\n\n## Deployment Instructions", 1)
			},
			section: SectionCode,
		},
		{
			name: "no code block",
			mutate: func(s string) string {
				start := strings.Index(s, "```bicep")
				end := strings.Index(s, "## Deployment Instructions")
				return s[:start] + "See attached.\n\n" + s[end:]
			},
			section: SectionCode,
		},
		{
			name: "unbalanced braces",
			mutate: func(s string) string {
				return strings.Replace(s, "  kind: 'StorageV2'\n}", "  kind: 'StorageV2'\n", 1)
			},
			section: SectionCode,
		},
		{
			name: "unclosed fence swallows later sections",
			mutate: func(s string) string {
				return strings.Replace(s, "output id string = storage.id\n```", "output id string = storage.id\n", 1)
			},
			section: SectionDeployment,
		},
		{
			name: "prose only",
			mutate: func(string) string {
				return "I'm sorry, I can only describe the migration in prose."
			},
			section: SectionSummary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := Parse(tt.mutate(validOutput))
			if err == nil {
				t.Fatal("Parse() error = nil, want MalformedOutput")
			}
			if art != nil {
				t.Error("Parse() returned a partial artifact")
			}

			var f *migration.Failure
			if !errors.As(err, &f) {
				t.Fatalf("error %T is not a *migration.Failure", err)
			}
			if f.Kind != migration.MalformedOutput {
				t.Errorf("Kind = %s, want %s", f.Kind, migration.MalformedOutput)
			}
			if f.Section != tt.section {
				t.Errorf("Section = %q, want %q (%v)", f.Section, tt.section, err)
			}
		})
	}
}

func TestParse_MappingWithoutCostAllowed(t *testing.T) {
	out := strings.Replace(validOutput, "| aws_cloudfront_distribution.cdn | Standard | $1,035.00/month |\n", "", 1)
	art, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(art.Costs) != 1 || len(art.Mapping) != 2 {
		t.Errorf("Costs = %d, Mapping = %d", len(art.Costs), len(art.Mapping))
	}
}

func TestParseCost(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$0", "0", true},
		{"12.5", "12.5", true},
		{"$1,234.56", "1234.56", true},
		{"40 USD", "40", true},
		{"$30/mo", "30", true},
		{"USD 7.10", "7.1", true},
		{"-1", "", false},
		{"N/A", "", false},
		{"~$5", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, err := parseCost(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseCost(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("parseCost(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
