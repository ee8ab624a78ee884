package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshgate/opmond/internal/models"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query service health data",
	Example: `  opmonctl health --token $TOKEN
  opmonctl health --client DEV/GOV/00000001/System1 --token $TOKEN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		request := map[string]any{}
		if clientFlag, _ := cmd.Flags().GetString("client"); clientFlag != "" {
			id, err := models.ParseClientID(clientFlag)
			if err != nil {
				return err
			}
			request["filterCriteria"] = map[string]any{"client": id}
		}

		client := newDaemonClient(baseURL, token)
		var data json.RawMessage
		if err := client.postJSON("/query/health-data", request, &data); err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().String("client", "", "narrow to services consumed by this client")
}
