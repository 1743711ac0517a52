package cli

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/builder"
	"github.com/georgepadayatti/goers/evidencerecord/digestbuilder"
	"github.com/georgepadayatti/goers/sign/cms"
	"github.com/georgepadayatti/goers/sign/xades"
)

// leafObject is a data object known only by its precomputed leaf.
type leafObject struct {
	name string
	leaf digest.Digest
}

func (o *leafObject) Name() string { return o.name }

func (o *leafObject) Digests(alg digest.Algorithm) ([]digest.Digest, error) {
	if alg != o.leaf.Algorithm {
		return nil, fmt.Errorf("leaf of %s is a %s digest, not %s", o.name, o.leaf.Algorithm, alg)
	}
	return []digest.Digest{o.leaf}, nil
}

// EmbedOptions contains options for the embed command.
type EmbedOptions struct {
	Algorithm   string
	SignatureID string
	Documents   []string
	Output      string
	Verify      bool
}

// checkSignature verifies the signature value before it is sealed. XML
// signatures are verified with the certificate of their KeyInfo.
func (a *app) checkSignature(signature []byte, enc archive.Encoding, docs []*evidencerecord.Document) error {
	var (
		signer *x509.Certificate
		err    error
	)
	if enc == archive.XML {
		signer, err = xades.VerifySignature(signature, nil)
	} else {
		var content []byte
		if len(docs) > 0 {
			if content, err = docs[0].Bytes(); err != nil {
				return err
			}
		}
		sd, perr := cms.ParseSignedData(signature)
		if perr != nil {
			return fmt.Errorf("%w: %v", digestbuilder.ErrFormat, perr)
		}
		signer, err = sd.Verify(content)
	}
	if err != nil {
		return fmt.Errorf("signature does not verify: %w", err)
	}
	if signer != nil {
		a.logger.Info("Signature verified", zap.String("signer", signer.Subject.String()))
	}
	return nil
}

func newEmbedCmd(a *app) *cobra.Command {
	var opts EmbedOptions
	var tsa tsaFlags
	cmd := &cobra.Command{
		Use:   "embed <signature>",
		Short: "Protect a signature with an embedded evidence record",
		Long: `Create an evidence record over a CAdES or XAdES signature and embed it in
the signature: an internal evidence record attribute of the first CAdES signer,
or a SealingEvidenceRecords property of the XAdES signature.

The record leaf uses the parallel convention, so further records embedded in
the same signature share it.

Examples:
  goers embed --tsa-url https://tsa.example.com -o sealed.p7s contract.p7s
  goers embed --signature-id sig-1 -d data.xml --tsa-p12 tsa.p12 -o sealed.xml signed.xml
  goers embed --verify-signature -d contract.pdf --tsa-url https://tsa.example.com -o sealed.p7s contract.p7s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := a.algorithm(opts.Algorithm)
			if err != nil {
				return err
			}
			signature, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read signature: %w", err)
			}
			enc, err := evidencerecord.DetectEncoding(signature)
			if err != nil {
				return fmt.Errorf("%w: %v", digestbuilder.ErrFormat, err)
			}
			docs, err := loadDocuments(opts.Documents)
			if err != nil {
				return err
			}
			if opts.Verify {
				if err := a.checkSignature(signature, enc, docs); err != nil {
					return err
				}
			}
			leaves, err := digestbuilder.Compute(signature, digestbuilder.Options{
				Algorithm:   alg,
				Parallel:    true,
				SignatureID: opts.SignatureID,
				Detached:    docs,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			stamper, err := a.stamper(&tsa)
			if err != nil {
				return err
			}

			record, err := builder.New(stamper,
				builder.WithDigestAlgorithm(alg),
				builder.WithEncoding(enc),
				builder.WithLogger(a.logger),
			).Create(cmd.Context(), []evidencerecord.DataObject{&leafObject{name: args[0], leaf: leaves[0]}})
			if err != nil {
				return err
			}

			var sealed []byte
			if enc == archive.XML {
				sealed, err = builder.EmbedXAdES(signature, opts.SignatureID, record)
			} else {
				sealed, err = builder.EmbedCAdES(signature, record)
			}
			if err != nil {
				return err
			}
			if err := writeOutput(opts.Output, sealed); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Signature with embedded evidence record written to %s", opts.Output)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Algorithm, "alg", "", "Digest algorithm (default from configuration)")
	flags.StringVar(&opts.SignatureID, "signature-id", "", "Id of the XML signature when the document holds several")
	flags.StringArrayVarP(&opts.Documents, "document", "d", nil, "Detached signed document (repeatable)")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file")
	flags.BoolVar(&opts.Verify, "verify-signature", false, "Refuse to seal a signature whose value does not verify")
	_ = cmd.MarkFlagRequired("output")
	tsa.register(flags)
	return cmd
}
