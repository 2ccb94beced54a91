package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfbatch/ops"
)

func newEncryptCmd(a *app) *cobra.Command {
	var userPW, ownerPW, algorithm string
	var permissions int
	cmd := &cobra.Command{
		Use:   "encrypt <input.pdf>...",
		Short: "Password-protect documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindEncrypt, args, ops.Params{
				"user-password":  userPW,
				"owner-password": ownerPW,
				"algorithm":      algorithm,
				"permissions":    permissions,
			}))
		},
	}
	cmd.Flags().StringVar(&userPW, "user-password", "", "password required to open")
	cmd.Flags().StringVar(&ownerPW, "owner-password", "", "password lifting the permission limits")
	cmd.Flags().StringVar(&algorithm, "algorithm", "aes-128", "rc4-40, rc4-128 or aes-128")
	cmd.Flags().IntVar(&permissions, "permissions", 0, "permission bits (0 = allow everything)")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <input.pdf>...",
		Short: "Remove encryption from documents",
		Long:  `Inputs are opened with --password and written back without encryption.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindDecrypt, args, nil))
		},
	}
}

func newSignCmd(a *app) *cobra.Command {
	var (
		keyPath, certPath         string
		keystorePath, keystorePW  string
		reason, location, contact string
	)
	cmd := &cobra.Command{
		Use:   "sign <input.pdf>...",
		Short: "Add an incremental digital signature",
		Long: `Key material comes either from a PKCS#12 keystore (--keystore) or
from a PEM key/certificate pair (--key and --cert). The signature is
appended incrementally, so the signed bytes of the original file stay
untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := ops.Params{
				"reason": reason, "location": location, "contact": contact,
			}
			if keystorePath != "" {
				data, err := os.ReadFile(keystorePath)
				if err != nil {
					return fmt.Errorf("read keystore: %w", err)
				}
				params["keystore"] = data
				params["keystore-password"] = keystorePW
			} else {
				key, err := os.ReadFile(keyPath)
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				cert, err := os.ReadFile(certPath)
				if err != nil {
					return fmt.Errorf("read certificate: %w", err)
				}
				params["key-pem"] = key
				params["cert-pem"] = cert
			}
			return a.runOne(cmd, a.spec(cmd, ops.KindSign, args, params))
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key")
	cmd.Flags().StringVar(&certPath, "cert", "", "PEM certificate")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "PKCS#12 keystore")
	cmd.Flags().StringVar(&keystorePW, "keystore-password", "", "keystore password")
	cmd.Flags().StringVar(&reason, "reason", "", "signing reason")
	cmd.Flags().StringVar(&location, "location", "", "signing location")
	cmd.Flags().StringVar(&contact, "contact", "", "signer contact")
	cmd.MarkFlagsRequiredTogether("key", "cert")
	cmd.MarkFlagsMutuallyExclusive("key", "keystore")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <input.pdf>",
		Short: "Verify a document's digital signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindVerify, args, nil))
		},
	}
}

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <input.pdf>",
		Short: "Rebuild a damaged document",
		Long: `Ignores the file's cross-reference table, rescans it for objects
and writes out a clean reconstruction. Notes about what had to be
patched are printed as warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			return a.runOne(cmd, a.spec(cmd, ops.KindRepair, args,
				ops.Params{"password": password}))
		},
	}
}
