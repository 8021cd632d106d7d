package generator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"genomeforge/internal/materialise"
	"genomeforge/pkg/genome"
)

var componentTemplate = template.Must(template.New("component").Parse(`// zone: {{.Zone}}
export default function {{.Name}}() {
  return (
    <section data-block="{{.Type}}" data-zone="{{.Zone}}">
{{- range .Props}}
      <div data-prop="{{.Key}}">{{"{"}}{{.Literal}}{{"}"}}</div>
{{- end}}
    </section>
  );
}
`))

// Template renders a deterministic placeholder component without any network
// call. It backs offline runs and tests.
type Template struct{}

func NewTemplate() *Template { return &Template{} }

type templateProp struct {
	Key     string
	Literal string
}

func (t *Template) Generate(ctx context.Context, blockType string, props genome.Props, zone string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(blockType) == "" {
		return "", fmt.Errorf("template: block type required")
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rendered := make([]templateProp, 0, len(keys))
	for _, k := range keys {
		lit, err := props[k].MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("template: prop %s: %w", k, err)
		}
		rendered = append(rendered, templateProp{Key: k, Literal: string(lit)})
	}
	var buf bytes.Buffer
	err := componentTemplate.Execute(&buf, struct {
		Name  string
		Type  string
		Zone  materialise.Zone
		Props []templateProp
	}{Name: componentName(blockType), Type: blockType, Zone: materialise.ClassifyZone(zone), Props: rendered})
	if err != nil {
		return "", fmt.Errorf("template: render %s: %w", blockType, err)
	}
	return buf.String(), nil
}

// componentName turns "hero-banner" into "HeroBanner".
func componentName(blockType string) string {
	var b strings.Builder
	upper := true
	for _, r := range blockType {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" || unicode.IsDigit([]rune(name)[0]) {
		name = "Block" + name
	}
	return name
}
