package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshgate/opmond/internal/models"
)

var storeCmd = &cobra.Command{
	Use:   "store [file]",
	Short: "Submit a record batch",
	Long:  "Submit operational records to the daemon from a JSON file or stdin.",
	Example: `  opmonctl store records.json --token $PRODUCER_TOKEN
  cat records.json | opmonctl store --token $PRODUCER_TOKEN`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		var raw []byte
		var err error
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading records: %w", err)
		}

		var body struct {
			Records []models.OperationalRecord `json:"records"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			// A bare array is also accepted.
			if err := json.Unmarshal(raw, &body.Records); err != nil {
				return fmt.Errorf("parsing records: %w", err)
			}
		}
		if len(body.Records) == 0 {
			return fmt.Errorf("no records to submit")
		}

		client := newDaemonClient(baseURL, token)
		var resp struct {
			Status    string `json:"status"`
			Submitted int    `json:"submitted"`
		}
		if err := client.postJSON("/store_data", body, &resp); err != nil {
			return err
		}

		fmt.Printf("submitted %d records\n", resp.Submitted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
}
