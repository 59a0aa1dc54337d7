package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
)

func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to the CicadaCI server",
		Run:   runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "Username for login (required)")
	cmd.Flags().StringP("password", "p", "", "Password for login (required)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func runLogin(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	jsonData, err := json.Marshal(api.LoginRequest{Username: username, Password: password})
	if err != nil {
		fmt.Fprintf(out, "Error: Failed to serialize data - %v\n", err)
		return
	}

	var loginResp api.LoginResponse
	if err := client.Call(http.MethodPost, "/login", bytes.NewBuffer(jsonData), &loginResp); err != nil {
		fmt.Fprintf(out, "Login failed: %v\n", err)
		return
	}
	client.SaveToken(loginResp.Token)
	fmt.Fprintf(out, "Login successful, role: %s\n", loginResp.Role)
}
