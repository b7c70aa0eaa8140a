// Command gatewayd runs the authentication gateway's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "Authentication and identity gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(2)
		},
	}
	root.AddCommand(commandServe())
	return root
}

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
