package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/meshgate/opmond/internal/auth"
	"github.com/meshgate/opmond/internal/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint tokens and hashes",
}

var callerTokenCmd = &cobra.Command{
	Use:   "caller",
	Short: "Mint a caller token for query endpoints",
	Example: `  opmonctl token caller --secret $OPMOND_AUTH_JWT_SECRET \
    --client DEV/GOV/00000001/System1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		clientFlag, _ := cmd.Flags().GetString("client")

		caller, err := models.ParseClientID(clientFlag)
		if err != nil {
			return err
		}

		token, err := auth.NewTokenGenerator(secret).GenerateCallerToken(caller)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a producer token for the client registry",
	Example: `  opmonctl token hash --value my-proxy-secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		value, _ := cmd.Flags().GetString("value")
		if value == "" {
			return fmt.Errorf("--value is required")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(callerTokenCmd)
	tokenCmd.AddCommand(hashTokenCmd)

	callerTokenCmd.Flags().String("secret", "", "daemon JWT secret")
	callerTokenCmd.Flags().String("client", "", "caller identifier (instance/class/code/subsystem)")
	callerTokenCmd.MarkFlagRequired("secret")
	callerTokenCmd.MarkFlagRequired("client")

	hashTokenCmd.Flags().String("value", "", "producer token value to hash")
}
