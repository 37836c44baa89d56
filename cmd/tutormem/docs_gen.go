package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/dotsetgreg/tutormem/pkg/config"
	"github.com/dotsetgreg/tutormem/pkg/memory"
	"github.com/dotsetgreg/tutormem/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var outputDir string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate reference docs from command/config/metrics source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")

	docsRoot.AddCommand(gen)
	return docsRoot
}

// generateDocumentation rewrites everything under <outputDir>/reference.
// Stale command pages are removed first.
func generateDocumentation(rootFactory func() *cobra.Command, outputDir string) error {
	refDir := filepath.Join(outputDir, "reference")
	cliRoot := rootFactory()
	markCommandsForDocgen(cliRoot)

	cliDir := filepath.Join(refDir, "cli")
	if err := resetDir(cliDir); err != nil {
		return err
	}
	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return fmt.Sprintf("# %s\n\n", strings.ReplaceAll(title, "_", " "))
	}
	linkHandler := func(name string) string { return name }
	if err := cobraDoc.GenMarkdownTreeCustom(cliRoot, cliDir, prepender, linkHandler); err != nil {
		return fmt.Errorf("generate cli markdown docs: %w", err)
	}

	manDir := filepath.Join(refDir, "man")
	if err := resetDir(manDir); err != nil {
		return err
	}
	header := &cobraDoc.GenManHeader{Title: "TUTORMEM", Section: "1", Source: appName}
	if err := cobraDoc.GenManTree(cliRoot, header, manDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}

	metricsRef, err := buildMetricsReferenceMarkdown()
	if err != nil {
		return err
	}
	pages := map[string]string{
		"config.md":       buildConfigReferenceMarkdown(),
		"metrics.md":      metricsRef,
		"interactions.md": buildInteractionReferenceMarkdown(),
	}
	for name, content := range pages {
		if err := os.WriteFile(filepath.Join(refDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func markCommandsForDocgen(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		markCommandsForDocgen(child)
	}
}

// buildConfigReferenceMarkdown lists every leaf of config.Config with its
// env override and the value DefaultConfig assigns it.
func buildConfigReferenceMarkdown() string {
	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	writeConfigRows(&b, reflect.ValueOf(config.DefaultConfig()).Elem(), "")
	return b.String()
}

func writeConfigRows(b *strings.Builder, v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := strings.Split(f.Tag.Get("json"), ",")[0]
		if !f.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			writeConfigRows(b, v.Field(i), key)
			continue
		}
		fmt.Fprintf(b, "| `%s` | `%s` | `%s` | `%v` |\n",
			key, f.Type.Kind(), valueOr(f.Tag.Get("env"), "-"), v.Field(i).Interface())
	}
}

// buildMetricsReferenceMarkdown registers the memory instruments on a
// throwaway registry and documents every family it gathers.
func buildMetricsReferenceMarkdown() (string, error) {
	reg := prometheus.NewRegistry()
	mm, err := metrics.NewMemory(reg)
	if err != nil {
		return "", err
	}
	// Vectors only gather once a child exists.
	mm.Observe("docs", metrics.OutcomeOK, time.Now())

	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Metrics Reference\n\n")
	b.WriteString("Generated from `pkg/metrics`. Exposed by `tutormem shell --metrics-addr` when `metrics.enabled` is true.\n\n")
	b.WriteString("| Metric | Type | Labels | Help |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, mf := range families {
		labels := []string{}
		if len(mf.GetMetric()) > 0 {
			for _, lp := range mf.GetMetric()[0].GetLabel() {
				labels = append(labels, lp.GetName())
			}
		}
		sort.Strings(labels)
		b.WriteString("| `" + mf.GetName() + "` | " + strings.ToLower(mf.GetType().String()) + " | `" + valueOr(strings.Join(labels, ","), "-") + "` | " + strings.ReplaceAll(mf.GetHelp(), "|", "\\|") + " |\n")
	}
	return b.String(), nil
}

func buildInteractionReferenceMarkdown() string {
	kinds := []memory.InteractionType{
		memory.InteractionQuestionAnswer,
		memory.InteractionExplanation,
		memory.InteractionPractice,
		memory.InteractionAnswer,
	}

	var b strings.Builder
	b.WriteString("# Interaction Reference\n\n")
	b.WriteString("## Interaction Types\n\n")
	for _, k := range kinds {
		b.WriteString("- `" + string(k) + "`\n")
	}
	b.WriteString("\n## Content Block Kinds\n\n")
	for _, k := range memory.ContentKinds() {
		b.WriteString("- `" + string(k) + "`\n")
	}
	b.WriteString("\n## Scoring\n\n")
	b.WriteString("| Value | Default |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Deviation threshold | `%v` |\n", memory.DefaultDeviationThreshold))
	b.WriteString(fmt.Sprintf("| History limit | `%d` |\n", memory.DefaultHistoryLimit))
	return b.String()
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
