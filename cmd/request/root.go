package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	cmdUtil "github.com/inferd/inferd/cmd/util"
	"github.com/inferd/inferd/front"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// RequestCmd sends one inference request to a running runtime
	RequestCmd = &cobra.Command{
		Use:   "request <application>",
		Short: "Send an inference request to a running inferd runtime",
		Long:  `Send an inference request to a running inferd runtime and print the result. The request parameters are given as a JSON object via --data or read from stdin.`,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdUtil.BindCommandFlags(cmd)
		},
		RunE: run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	key := "endpoint"
	RequestCmd.PersistentFlags().String(key, "localhost:8100", cmdUtil.WrapString("The address of the inferd runtime"))

	key = "data"
	RequestCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Request parameters as a JSON object. Reads from stdin when omitted"))

	key = "timeout"
	RequestCmd.PersistentFlags().Duration(key, 60*time.Second, cmdUtil.WrapString("Request timeout"))
}

// run sends the request and prints the result
func run(_ *cobra.Command, args []string) error {
	appID := args[0]

	data := viper.GetString("data")
	var body []byte
	if data != "" {
		body = []byte(data)
	} else {
		var err error
		body, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read request parameters from stdin: %v", err)
		}
	}

	// Validate the parameters before sending them
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return fmt.Errorf("request parameters must be a JSON object: %v", err)
	}

	url := fmt.Sprintf("http://%s/v1/%s", viper.GetString("endpoint"), appID)
	httpClient := &http.Client{Timeout: viper.GetDuration("timeout")}

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime answered %s: %s", resp.Status, bytes.TrimSpace(respBody))
	}

	if latency := resp.Header.Get(front.DispatchLatencyHeader); latency != "" {
		fmt.Fprintf(os.Stderr, "dispatch latency: %ss\n", latency)
	}

	fmt.Println(string(bytes.TrimSpace(respBody)))
	return nil
}
