package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshgate/opmond/internal/models"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query operational records",
	Long:  "Query operational records from the daemon, following the pagination cursor.",
	Example: `  # All records in a time range
  opmonctl query --from 1474968960 --to 1474968980 --token $TOKEN

  # Narrow by client and pick output fields
  opmonctl query --from 1474968960 --to 1474968980 \
    --client DEV/GOV/00000001/System1 \
    --fields monitoringDataTs,serviceCode,succeeded --token $TOKEN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		from, _ := cmd.Flags().GetInt64("from")
		to, _ := cmd.Flags().GetInt64("to")
		follow, _ := cmd.Flags().GetBool("follow")

		request := map[string]any{
			"recordsFrom": from,
			"recordsTo":   to,
		}

		criteria := map[string]any{}
		if clientFlag, _ := cmd.Flags().GetString("client"); clientFlag != "" {
			id, err := models.ParseClientID(clientFlag)
			if err != nil {
				return err
			}
			criteria["client"] = id
		}
		if providerFlag, _ := cmd.Flags().GetString("provider"); providerFlag != "" {
			id, err := models.ParseClientID(providerFlag)
			if err != nil {
				return err
			}
			criteria["serviceProvider"] = id
		}
		if len(criteria) > 0 {
			request["searchCriteria"] = criteria
		}
		if fields, _ := cmd.Flags().GetString("fields"); fields != "" {
			request["outputSpec"] = strings.Split(fields, ",")
		}

		client := newDaemonClient(baseURL, token)
		encoder := json.NewEncoder(os.Stdout)

		total := 0
		for {
			page, err := client.queryOperationalData(request)
			if err != nil {
				return err
			}
			for _, record := range page.Records {
				if err := encoder.Encode(record); err != nil {
					return err
				}
			}
			total += page.RecordsCount

			if !follow || page.NextRecordsFrom == nil {
				if page.NextRecordsFrom != nil {
					fmt.Fprintf(os.Stderr, "more records from %d (rerun with --from %d or use --follow)\n",
						*page.NextRecordsFrom, *page.NextRecordsFrom)
				}
				break
			}
			request["recordsFrom"] = *page.NextRecordsFrom
		}

		fmt.Fprintf(os.Stderr, "%d records\n", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().Int64("from", 0, "records from, epoch seconds")
	queryCmd.Flags().Int64("to", 0, "records to, epoch seconds")
	queryCmd.Flags().String("client", "", "client identifier filter (instance/class/code[/subsystem])")
	queryCmd.Flags().String("provider", "", "service provider identifier filter")
	queryCmd.Flags().String("fields", "", "comma separated output fields")
	queryCmd.Flags().Bool("follow", false, "follow the pagination cursor to the end of the range")
	queryCmd.MarkFlagRequired("from")
	queryCmd.MarkFlagRequired("to")
}
