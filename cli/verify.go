package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/config"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/digestbuilder"
	"github.com/georgepadayatti/goers/report"
	"github.com/georgepadayatti/goers/sign/ades"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	Signature      string
	Documents      []string
	TrustAnchors   []string
	Intermediates  []string
	ValidationTime string
	Format         string
	Scopes         bool
}

func newVerifyCmd(a *app) *cobra.Command {
	var opts VerifyOptions
	cmd := &cobra.Command{
		Use:   "verify [record...]",
		Short: "Validate evidence records",
		Long: `Validate evidence records.

Each argument is an ASN.1 or XML evidence record. With --signature the records
protect that signature file; without record arguments the records embedded in
the signature are validated. A single argument that is not an evidence record
is taken as a signature carrying embedded records.

The exit code is 0 when every record passes, 1 when a record fails or is
indeterminate and 2 on errors.

Examples:
  # Detached record over two documents
  goers verify --trust tsa-root.pem -d a.pdf -d b.pdf archive.ers

  # Records embedded in a CAdES signature, JSON reports
  goers verify --trust tsa-root.pem --signature contract.p7s -d contract.pdf --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, args, &opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.Signature, "signature", "s", "", "CAdES or XAdES signature protected by the records")
	flags.StringArrayVarP(&opts.Documents, "document", "d", nil, "Detached document (repeatable)")
	flags.StringArrayVar(&opts.TrustAnchors, "trust", nil, "Trust anchor certificate file, PEM or DER (repeatable)")
	flags.StringArrayVar(&opts.Intermediates, "intermediate", nil, "Intermediate CA certificate file (repeatable)")
	flags.StringVar(&opts.ValidationTime, "validation-time", "", "Validation time, RFC 3339")
	flags.StringVarP(&opts.Format, "format", "f", "text", "Output format: text, json, xml")
	flags.BoolVar(&opts.Scopes, "scopes", false, "List signature scopes in text output")
	return cmd
}

// validationConfig merges the command line options into a copy of the
// loaded validation settings.
func (a *app) validationConfig(opts *VerifyOptions) *config.ValidationConfig {
	validation := *a.cfg.Validation
	validation.TrustAnchors = append(append([]string(nil), validation.TrustAnchors...), opts.TrustAnchors...)
	validation.Intermediates = append(append([]string(nil), validation.Intermediates...), opts.Intermediates...)
	if opts.ValidationTime != "" {
		validation.ValidationTime = opts.ValidationTime
	}
	return &validation
}

func (a *app) runVerify(cmd *cobra.Command, args []string, opts *VerifyOptions) error {
	switch opts.Format {
	case "text", "json", "xml":
	default:
		return fmt.Errorf("unknown output format '%s'", opts.Format)
	}

	validation := a.validationConfig(opts)
	if err := validation.Validate(); err != nil {
		return err
	}
	validator, err := validation.NewValidator(a.logger)
	if err != nil {
		return err
	}

	docs, err := loadDocuments(opts.Documents)
	if err != nil {
		return err
	}
	records, signature, err := a.readVerifyInputs(args, opts.Signature)
	if err != nil {
		return err
	}
	inputs, err := digestbuilder.Inputs(records, signature, docs...)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no evidence record found")
	}

	results := validator.ValidateAll(cmd.Context(), inputs)
	builder := report.NewReportBuilder()
	if at, fixed, _ := validation.Time(); fixed {
		builder.SetValidationTime(at)
	}
	for i, res := range results {
		if res.Err != nil {
			a.logger.Warn("Evidence record could not be validated",
				zap.String("name", inputs[i].Name), zap.Error(res.Err))
		}
		builder.AddResult(inputs[i].Name, res)
	}
	reports := builder.Build()

	out := cmd.OutOrStdout()
	switch opts.Format {
	case "json":
		data, err := reports.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case "xml":
		data, err := reports.ToXML()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		format := report.DefaultTextFormat()
		format.IncludeScopes = opts.Scopes
		printText(out, reports.Simple, format)
	}

	if !reports.Simple.Conclusion.IsPassed() {
		return errNotPassed
	}
	return nil
}

// readVerifyInputs reads the record arguments and the signature file.
func (a *app) readVerifyInputs(args []string, signaturePath string) ([]evidencerecord.Input, []byte, error) {
	var signature []byte
	if signaturePath != "" {
		data, err := os.ReadFile(signaturePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read signature: %w", err)
		}
		signature = data
	}

	var records []evidencerecord.Input
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read evidence record: %w", err)
		}
		if _, err := evidencerecord.Parse(data); err != nil && len(args) == 1 && signature == nil {
			a.logger.Debug("Argument is not an evidence record, reading it as a signature",
				zap.String("path", path), zap.Error(err))
			return nil, data, nil
		}
		records = append(records, evidencerecord.Input{Name: filepath.Base(path), Data: data})
	}
	if len(records) == 0 && signature == nil {
		return nil, nil, fmt.Errorf("an evidence record or --signature is required")
	}
	return records, signature, nil
}

func printText(w io.Writer, simple *report.SimpleReport, format *report.TextFormat) {
	fmt.Fprint(w, simple.ToSimpleText(format))
	fmt.Fprintln(w)

	c := simple.Conclusion
	switch c.Indication {
	case ades.IndicationPassed:
		color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", c.Indication)
	case ades.IndicationFailed:
		color.New(color.FgRed, color.Bold).Fprintf(w, "✗ %s (%s)\n", c.Indication, c.SubIndication)
	default:
		color.New(color.FgYellow, color.Bold).Fprintf(w, "? %s (%s)\n", c.Indication, c.SubIndication)
	}
	for _, rec := range simple.Records {
		if rec.ProofOfExistence != nil {
			fmt.Fprintf(w, "  %s existed at %s\n", rec.Name, rec.ProofOfExistence.UTC().Format(time.RFC3339))
		}
	}
}
