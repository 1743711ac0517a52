package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/builder"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

// tsaFlags select the timestamp source. Any of them replaces the source
// of the configuration file.
type tsaFlags struct {
	url        string
	username   string
	password   string
	pkcs12     string
	pkcs12Pass string
	certFile   string
	keyFile    string
}

func (f *tsaFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.url, "tsa-url", "", "RFC 3161 timestamp service URL")
	flags.StringVar(&f.username, "tsa-user", "", "Timestamp service user name")
	flags.StringVar(&f.password, "tsa-password", "", "Timestamp service password")
	flags.StringVar(&f.pkcs12, "tsa-p12", "", "Local TSA PKCS#12 bundle")
	flags.StringVar(&f.pkcs12Pass, "tsa-p12-password", "", "Password of the PKCS#12 bundle")
	flags.StringVar(&f.certFile, "tsa-cert", "", "Local TSA certificate, PEM or DER")
	flags.StringVar(&f.keyFile, "tsa-key", "", "Local TSA private key, PEM or DER")
}

func (f *tsaFlags) set() bool {
	return f.url != "" || f.pkcs12 != "" || f.certFile != "" || f.keyFile != ""
}

func (a *app) stamper(f *tsaFlags) (timestamps.Stamper, error) {
	cfg := a.cfg.Timestamp
	if f.set() {
		cfg.URL, cfg.Username, cfg.Password = f.url, f.username, f.password
		cfg.PKCS12, cfg.PKCS12Password = f.pkcs12, f.pkcs12Pass
		cfg.CertFile, cfg.KeyFile = f.certFile, f.keyFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Stamper()
}

func parseEncoding(name string) (archive.Encoding, error) {
	switch strings.ToLower(name) {
	case "asn1", "der", "ers":
		return archive.ASN1, nil
	case "xml", "xmlers":
		return archive.XML, nil
	}
	return "", fmt.Errorf("unknown evidence record encoding '%s'", name)
}

func (a *app) algorithm(name string) (digest.Algorithm, error) {
	if name == "" {
		return a.cfg.Validation.Algorithm(), nil
	}
	return digest.Parse(name)
}

// CreateOptions contains options for the create command.
type CreateOptions struct {
	Algorithm string
	Encoding  string
	Output    string
}

func newCreateCmd(a *app) *cobra.Command {
	var opts CreateOptions
	var tsa tsaFlags
	cmd := &cobra.Command{
		Use:   "create <file>...",
		Short: "Create an evidence record over documents",
		Long: `Create an evidence record protecting one or more documents with a single
archive timestamp. The timestamp comes from a remote service (--tsa-url) or a
local TSA credential (--tsa-p12, or --tsa-cert with --tsa-key).

Examples:
  goers create --tsa-url https://tsa.example.com -o archive.ers a.pdf b.pdf
  goers create --tsa-p12 tsa.p12 --tsa-p12-password secret --encoding xml -o archive.xml a.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := a.algorithm(opts.Algorithm)
			if err != nil {
				return err
			}
			enc, err := parseEncoding(opts.Encoding)
			if err != nil {
				return err
			}
			stamper, err := a.stamper(&tsa)
			if err != nil {
				return err
			}
			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}
			objects := make([]evidencerecord.DataObject, len(docs))
			for i, doc := range docs {
				objects[i] = doc
			}

			b := builder.New(stamper,
				builder.WithDigestAlgorithm(alg),
				builder.WithEncoding(enc),
				builder.WithWorkers(a.cfg.Validation.Workers),
				builder.WithLogger(a.logger))
			record, err := b.Create(cmd.Context(), objects)
			if err != nil {
				return err
			}
			if err := writeRecord(opts.Output, record); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Evidence record over %d document(s) written to %s", len(docs), opts.Output)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Algorithm, "alg", "", "Hash tree digest algorithm (default from configuration)")
	flags.StringVar(&opts.Encoding, "encoding", "asn1", "Record encoding: asn1, xml")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file")
	_ = cmd.MarkFlagRequired("output")
	tsa.register(flags)
	return cmd
}

// RenewOptions contains options for the renew command.
type RenewOptions struct {
	Mode      string
	Algorithm string
	Documents []string
	Output    string
}

func newRenewCmd(a *app) *cobra.Command {
	var opts RenewOptions
	var tsa tsaFlags
	cmd := &cobra.Command{
		Use:   "renew <record>",
		Short: "Renew an evidence record",
		Long: `Renew an evidence record.

A timestamp renewal appends an archive timestamp over the last one to the last
chain. A hash tree renewal starts a new chain whose timestamp covers the
documents and the previous chains, typically with a stronger algorithm.

Examples:
  goers renew --mode timestamp --tsa-url https://tsa.example.com -o renewed.ers archive.ers
  goers renew --mode hashtree --alg SHA512 -d a.pdf -d b.pdf --tsa-p12 tsa.p12 -o renewed.ers archive.ers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read evidence record: %w", err)
			}
			record, err := evidencerecord.Parse(data)
			if err != nil {
				return err
			}
			stamper, err := a.stamper(&tsa)
			if err != nil {
				return err
			}
			b := builder.New(stamper,
				builder.WithWorkers(a.cfg.Validation.Workers),
				builder.WithLogger(a.logger))

			var renewed *archive.Record
			switch opts.Mode {
			case "timestamp":
				renewed, err = b.RenewTimestamp(cmd.Context(), record)
			case "hashtree":
				alg, aerr := a.algorithm(opts.Algorithm)
				if aerr != nil {
					return aerr
				}
				docs, derr := loadDocuments(opts.Documents)
				if derr != nil {
					return derr
				}
				objects := make([]evidencerecord.DataObject, len(docs))
				for i, doc := range docs {
					objects[i] = doc
				}
				renewed, err = b.RenewHashTree(cmd.Context(), record, alg, objects)
			default:
				return fmt.Errorf("unknown renewal mode '%s', expected timestamp or hashtree", opts.Mode)
			}
			if err != nil {
				return err
			}
			if err := writeRecord(opts.Output, renewed); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Renewed evidence record written to %s", opts.Output)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Mode, "mode", "timestamp", "Renewal mode: timestamp, hashtree")
	flags.StringVar(&opts.Algorithm, "alg", "", "Digest algorithm of the new chain (hashtree mode)")
	flags.StringArrayVarP(&opts.Documents, "document", "d", nil, "Protected document (hashtree mode, repeatable)")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file")
	_ = cmd.MarkFlagRequired("output")
	tsa.register(flags)
	return cmd
}

func writeRecord(path string, record *archive.Record) error {
	encoded, err := evidencerecord.Encode(record)
	if err != nil {
		return err
	}
	return writeOutput(path, encoded)
}
