package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	maskOutput string
	maskIDOnly bool
)

func init() {
	maskCmd.Flags().StringVarP(&maskOutput, "output", "o", "", "write masked text to file instead of stdout")
	maskCmd.Flags().BoolVar(&maskIDOnly, "id-only", false, "print only the document id")
}

var maskCmd = &cobra.Command{
	Use:   "mask [file]",
	Short: "Mask a document and print its id and masked text",
	Long:  `Reads a document from the given file (or stdin when omitted), masks every detected entity and prints the assigned document id plus the masked text.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			document []byte
			err      error
		)
		if len(args) == 1 {
			document, err = os.ReadFile(args[0])
		} else {
			document, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}

		var resp struct {
			DocumentID string `json:"documentId"`
			MaskedText string `json:"maskedText"`
			Entities   int    `json:"entities"`
		}
		if err := postRaw(serverURL+"/v1/mask", "text/plain", document, &resp); err != nil {
			return fmt.Errorf("mask: %w", err)
		}

		if maskIDOnly {
			fmt.Println(resp.DocumentID)
			return nil
		}

		fmt.Fprintf(os.Stderr, "document id: %s (%d entities)\n", resp.DocumentID, resp.Entities)
		if maskOutput != "" {
			return os.WriteFile(maskOutput, []byte(resp.MaskedText), 0o600)
		}
		fmt.Println(resp.MaskedText)
		return nil
	},
}
