package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/fleetdash/internal/credential"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the fleet API token in the system keyring",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the API token (prompts when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokenSet,
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored API token",
	RunE:  runTokenDelete,
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		err := huh.NewInput().
			Title("Fleet API token").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token cannot be empty")
				}
				return nil
			}).
			Value(&value).
			Run()
		if err != nil {
			return err
		}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("token cannot be empty")
	}
	if err := credential.Set(credential.TokenKey, value); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	if err := credential.Delete(credential.TokenKey); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
	return nil
}
