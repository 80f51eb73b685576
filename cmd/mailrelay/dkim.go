package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/falak/mailrelay/internal/dkim"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management for the SMTP provider",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key and print the DNS record to publish.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DKIM DNS record for an existing key",
	RunE:  runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "mailrelay", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "mailrelay", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))

	privateKey, err := dkim.GenerateKey(keyPath)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	return printDKIMRecord(dkim.NewSigner(privateKey, dkimDomain, dkimSelector))
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	signer, err := dkim.NewSignerFromFile(dkimKeyFile, dkimDomain, dkimSelector)
	if err != nil {
		return err
	}
	return printDKIMRecord(signer)
}

func printDKIMRecord(signer *dkim.Signer) error {
	record, err := signer.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", signer.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", record)
	return nil
}
