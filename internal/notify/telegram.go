package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/magpie/internal/types"
)

const maxTelegramMessage = 4096

// Telegram pushes run outcomes to a single operator chat. It is wired as a
// dispatcher completion hook; every send is best-effort and never fails the
// run that triggered it.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// OnRunCompleted matches the dispatcher's completion hook signature. Runs
// that finished clean with nothing to report are kept quiet.
func (n *Telegram) OnRunCompleted(_ context.Context, run *types.WorkflowRun) {
	switch run.Status {
	case types.RunFailed:
		if hasChallenge(run) {
			n.send(formatChallenge(run))
			return
		}
		n.send(formatFailure(run))
	case types.RunCompleted:
		n.send(formatCompletion(run))
	}
}

func (n *Telegram) send(text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := n.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := n.bot.Send(msg); err != nil {
				slog.Warn("telegram send failed", "error", err)
			}
		}
	}
}

func formatCompletion(run *types.WorkflowRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *%s* run finished\n", run.Type)
	fmt.Fprintf(&b, "Items: %d ok", run.SuccessItems)
	if run.SkippedItems > 0 {
		fmt.Fprintf(&b, ", %d skipped", run.SkippedItems)
	}
	if run.ErrorItems > 0 {
		fmt.Fprintf(&b, ", %d errored", run.ErrorItems)
	}
	b.WriteString("\n")
	if run.CostUSD > 0 {
		fmt.Fprintf(&b, "Tokens: %d in / %d out ($%.4f)\n", run.InputTokens, run.OutputTokens, run.CostUSD)
	}
	fmt.Fprintf(&b, "Run: `%s`", run.ID)
	return b.String()
}

func formatFailure(run *types.WorkflowRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ *%s* run failed\n", run.Type)
	for _, e := range firstErrors(run, 3) {
		fmt.Fprintf(&b, "• %s\n", e)
	}
	fmt.Fprintf(&b, "Run: `%s`", run.ID)
	return b.String()
}

func formatChallenge(run *types.WorkflowRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Challenge detected* during %s run\n", run.Type)
	b.WriteString("The platform asked for verification; automated work on this account is paused until you re-authenticate.\n")
	for _, e := range firstErrors(run, 1) {
		fmt.Fprintf(&b, "• %s\n", e)
	}
	fmt.Fprintf(&b, "Run: `%s`", run.ID)
	return b.String()
}

// hasChallenge reports whether any recorded run error came from a challenge
// abort rather than an ordinary failure.
func hasChallenge(run *types.WorkflowRun) bool {
	for _, e := range run.Errors {
		if strings.Contains(e, "challenge detected") {
			return true
		}
	}
	return false
}

func firstErrors(run *types.WorkflowRun, limit int) []string {
	if len(run.Errors) <= limit {
		return run.Errors
	}
	rest := len(run.Errors) - limit
	out := append([]string{}, run.Errors[:limit]...)
	return append(out, fmt.Sprintf("(and %d more)", rest))
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
