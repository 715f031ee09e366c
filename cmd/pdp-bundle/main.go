package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/pdp"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "inspect":
		handleInspect()
	case "keygen":
		handleKeygen()
	case "sign":
		handleSign()
	case "verify":
		handleVerify()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pdp-bundle - Policy bundle tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pdp-bundle convert <input> <output>       - Convert between formats")
	fmt.Println("  pdp-bundle validate <file>                - Validate bundle structure")
	fmt.Println("  pdp-bundle inspect <file>                 - Show bundle details")
	fmt.Println("  pdp-bundle keygen <key-file>              - Generate an ed25519 signing key")
	fmt.Println("  pdp-bundle sign <file> <key-file>         - Sign a bundle in place")
	fmt.Println("  pdp-bundle verify <file> <pub-key-file>   - Verify a bundle signature")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: pdp-bundle convert <input> <output>")
		os.Exit(1)
	}
	inputFile := os.Args[2]
	outputFile := os.Args[3]

	bundle, err := pdp.NewBundleLoader().LoadFile(inputFile)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	if err := saveBundle(bundle, outputFile); err != nil {
		fmt.Printf("Error saving bundle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-bundle validate <file>")
		os.Exit(1)
	}
	bundle, err := pdp.NewBundleLoader().LoadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid bundle: %v\n", err)
		os.Exit(1)
	}
	if bundle.Version == "" {
		fmt.Println("Bundle missing version")
		os.Exit(1)
	}
	if bundle.Algorithm == "" {
		fmt.Println("Bundle missing signature algorithm")
		os.Exit(1)
	}
	if len(bundle.Signature) == 0 {
		fmt.Println("Bundle is unsigned")
		os.Exit(1)
	}
	for _, w := range bundle.Rules.FreezeWindows {
		if w.Name == "" {
			fmt.Println("Freeze window missing name")
			os.Exit(1)
		}
		if w.Kind == "" {
			fmt.Printf("Freeze window %s missing kind\n", w.Name)
			os.Exit(1)
		}
	}
	fmt.Println("Bundle is valid")
	fmt.Printf("  Version:        %s\n", bundle.Version)
	fmt.Printf("  Signer:         %s (key %s)\n", bundle.SignerID, bundle.KeyVersion)
	fmt.Printf("  Freeze windows: %d\n", len(bundle.Rules.FreezeWindows))
	fmt.Printf("  Approver rules: %d\n", len(bundle.Rules.ApproverRoles))
}

func handleInspect() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-bundle inspect <file>")
		os.Exit(1)
	}
	filename := os.Args[2]
	bundle, err := pdp.NewBundleLoader().LoadFile(filename)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)
	fmt.Println("Bundle Details")
	fmt.Println("==============")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version:     %s\n", bundle.Version)
	fmt.Printf("Signer:      %s\n", bundle.SignerID)
	fmt.Printf("Key version: %s\n", bundle.KeyVersion)
	fmt.Printf("Algorithm:   %s\n", bundle.Algorithm)
	if !bundle.ExpiresAt.IsZero() {
		fmt.Printf("Expires:     %s\n", bundle.ExpiresAt.Format(time.RFC3339))
	}
	digest, err := bundle.Digest()
	if err == nil {
		fmt.Printf("Digest:      %x\n", digest)
	}
	fmt.Println()
	fmt.Println("Rules:")
	fmt.Printf("  Assurance levels:    %d\n", len(bundle.Rules.MinAssurance))
	fmt.Printf("  Privileged actions:  %d\n", len(bundle.Rules.PrivilegedActions))
	fmt.Printf("  Protected actions:   %d\n", len(bundle.Rules.ProtectedActions))
	fmt.Printf("  Approver rules:      %d\n", len(bundle.Rules.ApproverRoles))
	fmt.Printf("  Freeze windows:      %d\n", len(bundle.Rules.FreezeWindows))
	fmt.Printf("  Discount tiers:      %d\n", len(bundle.Rules.Governance.DiscountTiers))
	fmt.Printf("  Stage order entries: %d\n", len(bundle.Rules.Governance.StageOrder))
}

func handleKeygen() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pdp-bundle keygen <key-file>")
		os.Exit(1)
	}
	keyFile := os.Args[2]
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(keyFile, []byte(base64.StdEncoding.EncodeToString(priv)), 0600); err != nil {
		fmt.Printf("Error writing key: %v\n", err)
		os.Exit(1)
	}
	pubFile := keyFile + ".pub"
	if err := os.WriteFile(pubFile, []byte(base64.StdEncoding.EncodeToString(pub)), 0644); err != nil {
		fmt.Printf("Error writing public key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s and %s\n", keyFile, pubFile)
}

func handleSign() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: pdp-bundle sign <file> <key-file>")
		os.Exit(1)
	}
	filename := os.Args[2]
	priv, err := loadPrivateKey(os.Args[3])
	if err != nil {
		fmt.Printf("Error loading key: %v\n", err)
		os.Exit(1)
	}

	bundle, err := pdp.NewBundleLoader().LoadFile(filename)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	if bundle.Algorithm == "" {
		bundle.Algorithm = pdp.AlgorithmEd25519
	}
	if err := pdp.SignBundle(priv, bundle); err != nil {
		fmt.Printf("Error signing bundle: %v\n", err)
		os.Exit(1)
	}
	if err := saveBundle(bundle, filename); err != nil {
		fmt.Printf("Error saving bundle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signed %s (version %s, key %s)\n", filename, bundle.Version, bundle.KeyVersion)
}

func handleVerify() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: pdp-bundle verify <file> <pub-key-file>")
		os.Exit(1)
	}
	bundle, err := pdp.NewBundleLoader().LoadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	pub, err := loadPublicKey(os.Args[3])
	if err != nil {
		fmt.Printf("Error loading public key: %v\n", err)
		os.Exit(1)
	}

	store := pdp.NewStore(pdp.WithPinnedKey(bundle.KeyVersion, pub))
	ok, reasons := store.Verify(bundle)
	if !ok {
		fmt.Println("Verification FAILED:")
		for _, r := range reasons {
			fmt.Printf("  - %s\n", r)
		}
		os.Exit(1)
	}
	fmt.Printf("Signature valid (version %s, signer %s, key %s)\n", bundle.Version, bundle.SignerID, bundle.KeyVersion)
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("unexpected key length %d", len(raw))
	}
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func saveBundle(b *pdp.Bundle, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = b.ToYAML()
	case ".json":
		data, err = b.ToJSON()
	case ".bin":
		data, err = pdp.EncodeBinaryBundle(b)
	default:
		return fmt.Errorf("unsupported output format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
