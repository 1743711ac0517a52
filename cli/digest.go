package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/digestbuilder"
)

// DigestOptions contains options for the digest command.
type DigestOptions struct {
	Algorithm   string
	Parallel    bool
	External    bool
	SignatureID string
	Documents   []string
	Base64      bool
}

func newDigestCmd(a *app) *cobra.Command {
	var opts DigestOptions
	cmd := &cobra.Command{
		Use:   "digest <signature>",
		Short: "Compute the evidence record digest of a signature",
		Long: `Compute the hash tree leaf an evidence record uses for a CAdES or XAdES
signature.

The sequential convention hashes the signature with its embedded records, the
parallel convention without them. With --external the two leaves of an
external record over a detached CAdES signature are printed: the signature
digest and the signed content digest.

Examples:
  goers digest contract.p7s
  goers digest --alg SHA512 --parallel contract.p7s
  goers digest --external -d contract.pdf contract.p7s
  goers digest --signature-id sig-1 -d data.xml signed.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDigest(cmd, args[0], &opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Algorithm, "alg", "", "Digest algorithm (default from configuration)")
	flags.BoolVar(&opts.Parallel, "parallel", false, "Use the parallel convention")
	flags.BoolVar(&opts.External, "external", false, "Print the leaves of an external record over a detached CAdES signature")
	flags.StringVar(&opts.SignatureID, "signature-id", "", "Id of the XML signature when the document holds several")
	flags.StringArrayVarP(&opts.Documents, "document", "d", nil, "Detached signed document (repeatable)")
	flags.BoolVar(&opts.Base64, "base64", false, "Print base64 instead of hex")
	return cmd
}

func (a *app) runDigest(cmd *cobra.Command, path string, opts *DigestOptions) error {
	alg := a.cfg.Validation.Algorithm()
	if opts.Algorithm != "" {
		parsed, err := digest.Parse(opts.Algorithm)
		if err != nil {
			return err
		}
		alg = parsed
	}
	parallel := a.cfg.Validation.Parallel
	if cmd.Flags().Changed("parallel") {
		parallel = opts.Parallel
	}

	signature, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	docs, err := loadDocuments(opts.Documents)
	if err != nil {
		return err
	}
	leaves, err := digestbuilder.Compute(signature, digestbuilder.Options{
		Algorithm:   alg,
		Parallel:    parallel,
		SignatureID: opts.SignatureID,
		External:    opts.External,
		Detached:    docs,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, d := range leaves {
		value := d.Hex()
		if opts.Base64 {
			value = d.Base64()
		}
		fmt.Fprintf(out, "%s %s\n", d.Algorithm, value)
	}
	return nil
}
