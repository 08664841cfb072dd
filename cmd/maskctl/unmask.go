package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var unmaskFile string

func init() {
	unmaskCmd.Flags().StringVarP(&unmaskFile, "file", "f", "", "masked text file to restore (default: text archived with the mapping)")
}

var unmaskCmd = &cobra.Command{
	Use:   "unmask <document-id>",
	Short: "Restore a masked document by id",
	Long:  `Restores every placeholder in the document back to its original text. Without --file the service restores the masked text it archived at mask time.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var maskedText string
		switch unmaskFile {
		case "":
		case "-":
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			maskedText = string(data)
		default:
			data, err := os.ReadFile(unmaskFile)
			if err != nil {
				return fmt.Errorf("read %s: %w", unmaskFile, err)
			}
			maskedText = string(data)
		}

		body, err := json.Marshal(map[string]string{
			"documentId": args[0],
			"maskedText": maskedText,
		})
		if err != nil {
			return err
		}

		var resp struct {
			DocumentID string `json:"documentId"`
			Text       string `json:"text"`
		}
		if err := postRaw(serverURL+"/v1/unmask", "application/json", body, &resp); err != nil {
			return fmt.Errorf("unmask: %w", err)
		}

		fmt.Println(resp.Text)
		return nil
	},
}
