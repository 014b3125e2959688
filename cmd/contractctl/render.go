package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"contractflow/api/internal/placeholder"
	"contractflow/api/internal/render"
	"contractflow/api/internal/resolve"
)

var renderFlags struct {
	template   string
	declared   string
	records    string
	overrides  string
	standalone bool
	subject    resolve.Subject
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a template against records from JSON files",
	Long: `Render a template offline. --records points to a JSON object keyed by
collection (campaign, influencer, contract, company, user) and then by record
key. --declared maps placeholder names to descriptor lists and --overrides maps
occurrence keys such as signature_0 to values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if renderFlags.template == "" {
			return fmt.Errorf("--template is required")
		}
		doc, err := os.ReadFile(renderFlags.template)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		in := renderInput{Template: string(doc), Subject: renderFlags.subject, Standalone: renderFlags.standalone}
		if err := readJSONFile(renderFlags.declared, &in.Declared); err != nil {
			return err
		}
		if err := readJSONFile(renderFlags.overrides, &in.Overrides); err != nil {
			return err
		}
		var records map[string]map[string]resolve.Record
		if err := readJSONFile(renderFlags.records, &records); err != nil {
			return err
		}
		if in.Records, err = recordSource(records); err != nil {
			return err
		}
		return writeRender(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), in, flagJSON)
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&renderFlags.template, "template", "", "template HTML file")
	f.StringVar(&renderFlags.declared, "declared", "", "declared variables JSON file")
	f.StringVar(&renderFlags.records, "records", "", "records JSON file")
	f.StringVar(&renderFlags.overrides, "overrides", "", "overrides JSON file")
	f.BoolVar(&renderFlags.standalone, "standalone", false, "wrap the result in a printable page")
	f.StringVar(&renderFlags.subject.CampaignID, "campaign", "", "campaign key")
	f.StringVar(&renderFlags.subject.InfluencerID, "influencer", "", "influencer key")
	f.StringVar(&renderFlags.subject.ContractID, "contract", "", "contract key")
	f.StringVar(&renderFlags.subject.CompanyID, "company", "", "company key")
	f.StringVar(&renderFlags.subject.UserID, "user", "", "user key")
}

type renderInput struct {
	Template   string
	Declared   map[string][]string
	Overrides  map[string]string
	Records    resolve.MapSource
	Subject    resolve.Subject
	Standalone bool
}

type renderOutput struct {
	HTML       string             `json:"renderedHtml"`
	Entries    []*resolve.Entry   `json:"entries"`
	Variables  map[string]*string `json:"variables"`
	Unresolved []string           `json:"unresolved"`
}

func renderTemplate(ctx context.Context, in renderInput) (renderOutput, []resolve.Miss) {
	if in.Records == nil {
		in.Records = resolve.MapSource{}
	}
	doc := render.Normalize(in.Template)
	tokens := placeholder.Parse(doc)
	resolved := resolve.NewResolver(in.Records, nil).Resolve(ctx, in.Subject, tokens, in.Declared)
	plan := resolve.Assign(tokens, resolved.Entries, in.Overrides)
	res := render.Render(doc, plan)

	out := renderOutput{HTML: res.HTML, Entries: plan.Entries, Variables: plan.Variables(), Unresolved: res.Unresolved}
	if in.Standalone {
		out.HTML = render.Standalone("Contract", res.HTML)
	}
	return out, resolved.Misses
}

func writeRender(ctx context.Context, w, errw io.Writer, in renderInput, asJSON bool) error {
	out, misses := renderTemplate(ctx, in)
	for _, m := range misses {
		fmt.Fprintf(errw, "unresolved %s (%s): %s\n", m.Name, m.Descriptor, m.Reason)
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	_, err := io.WriteString(w, out.HTML+"\n")
	return err
}

func recordSource(raw map[string]map[string]resolve.Record) (resolve.MapSource, error) {
	src := resolve.MapSource{}
	for name, records := range raw {
		c, ok := resolve.CollectionFor(name)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q in records", name)
		}
		if src[c] == nil {
			src[c] = map[string]resolve.Record{}
		}
		for key, rec := range records {
			src[c][key] = rec
		}
	}
	return src, nil
}

func readJSONFile(path string, target any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
