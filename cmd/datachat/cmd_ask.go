package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/datachat/internal/orchestrator"
	"github.com/user/datachat/pkg/llm"
)

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "default", "session ID for memory")
	rootCmd.AddCommand(askCmd)
}

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and stream the answer to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	loop, _, _, err := buildAgent(cfg)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	history := []llm.Message{llm.UserMessage(question)}

	for event := range loop.Run(cmd.Context(), history, askSessionID) {
		switch ev := event.(type) {
		case orchestrator.ToolCallEvent:
			fmt.Fprintf(os.Stderr, "-> %s\n", ev.Name)
		case orchestrator.FinalEvent:
			fmt.Println(ev.Text)
			if ev.ChartJS != nil {
				data, err := json.MarshalIndent(ev.ChartJS, "", "  ")
				if err == nil {
					fmt.Println(string(data))
				}
			}
		}
	}
	return nil
}
