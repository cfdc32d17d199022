package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/app"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/logger"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
)

const (
	defaultHistoryLimit = 20
	historyContentWidth = 60
)

var (
	historyPlatform string
	historyLimit    int
	historyOffset   int
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyPlatform, "platform", "p", tghelpers.Platform, "platform the chat belongs to")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", defaultHistoryLimit, "entries per page (0 for all)")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "entries to skip")
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Show the message history of a chat",
	Long:  "Look up the dialog of a chat in the configured state store and print its history, newest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 || historyOffset < 0 {
			return errors.New("--limit and --offset must be >= 0")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, closeStore, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer logger.Shutdown()
		defer closeStore()

		key := state.Key{BotID: cfg.Dialog.BotID, Platform: historyPlatform, ChatID: args[0]}
		return printHistory(cmd, backend, key)
	},
}

func printHistory(cmd *cobra.Command, backend state.Backend, key state.Key) error {
	ctx := cmd.Context()
	st, err := backend.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("no dialog for chat %s on %s", key.ChatID, key.Platform)
	}
	if err != nil {
		return err
	}
	entries, err := backend.GetHistory(ctx, st.ID, historyLimit, historyOffset)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dialog %s at step %q, last active %s\n", st.ID, st.CurrentStep, st.LastInteractionAt.UTC().Format(time.RFC3339))
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.MessageType,
			e.StepID,
			shorten(e.Content, historyContentWidth),
		})
	}
	return writeTable(out, []string{"ID", "TIME", "TYPE", "STEP", "CONTENT"}, rows)
}

func shorten(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
