package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/assistant"
	"github.com/Royal-Captain/ai-telegram-bot/internal/entitlement"
	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
	"github.com/Royal-Captain/ai-telegram-bot/internal/session"
	"github.com/Royal-Captain/ai-telegram-bot/internal/storage"
)

type Config struct {
	Token         string
	AdminID       int64
	AdminUsername string
}

// Bot is the Telegram transport adapter: it renders prompts and menus and
// drives the session and entitlement engines. All policy lives in those
// engines; the bot only translates updates into engine calls and results into
// messages.
type Bot struct {
	api          *tgbotapi.BotAPI
	storage      storage.Storage
	sessions     *session.Manager
	entitlements *entitlement.Engine
	payments     *entitlement.PaymentTracker
	responder    assistant.Responder
	moderator    *Moderator
	cfg          Config
	logger       *zap.Logger
}

func New(cfg Config, store storage.Storage, sessions *session.Manager, entitlements *entitlement.Engine, payments *entitlement.PaymentTracker, responder assistant.Responder, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		api:          api,
		storage:      store,
		sessions:     sessions,
		entitlements: entitlements,
		payments:     payments,
		responder:    responder,
		moderator:    NewModerator(logger),
		cfg:          cfg,
		logger:       logger,
	}
	sessions.SetPendingSaveHook(b.promptSaveOrDiscard)
	return b, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			go b.handleCallback(update.CallbackQuery)
		case update.Message != nil:
			go b.handleMessage(update.Message)
		}
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()
	userID := message.From.ID

	// group chats get moderation only; conversations are a private-chat feature
	if message.Chat.IsGroup() || message.Chat.IsSuperGroup() {
		b.moderateGroupMessage(message)
		return
	}

	// ban is the overriding gate; banned users keep their state but nothing
	// else happens for them
	if b.entitlements.IsBanned(ctx, userID) {
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	err := b.sessions.HandleIncoming(ctx, userID, message.Text, time.Now())
	switch {
	case errors.Is(err, session.ErrRateLimited):
		b.sendMessage(message.Chat.ID, "Please slow down! You're sending messages too quickly.")
		return
	case errors.Is(err, session.ErrWeeklyQuota):
		b.sendMessage(message.Chat.ID,
			"You've reached your weekly conversation limit. Upgrade with /premium for more.")
		return
	case errors.Is(err, session.ErrMessageQuota):
		b.sendMessage(message.Chat.ID,
			"You've reached the message limit for this conversation. Please start a new one with /new.")
		return
	case err != nil:
		b.logger.Error("Failed to handle message",
			zap.Error(err), zap.Int64("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	conv, ok := b.sessions.ActiveSession(userID)
	if !ok {
		return
	}
	reply, err := b.responder.Reply(ctx, conv.Turns)
	if err != nil {
		b.logger.Error("Failed to get assistant reply",
			zap.Error(err), zap.Int64("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't answer that. Please try again.")
		return
	}
	if err := b.sessions.AppendTurn(ctx, userID, models.RoleAssistant, reply, time.Now()); err != nil {
		b.logger.Error("Failed to append assistant turn",
			zap.Error(err), zap.Int64("user_id", userID))
	}
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "save":
		b.handleSave(ctx, message)
	case "discard":
		b.handleDiscard(message)
	case "saved":
		b.handleSaved(ctx, message)
	case "premium":
		b.handlePremium(message)
	case "status":
		b.handleStatus(ctx, message)
	case "promote", "extend", "discount", "ban", "confirm":
		b.handleAdminCommand(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID

	exists, err := b.storage.UserExists(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to check user existence",
			zap.Error(err), zap.Int64("user_id", userID))
	}
	if err == nil && !exists {
		user := &models.User{
			ID:        userID,
			Username:  message.From.UserName,
			FirstName: message.From.FirstName,
			LastName:  message.From.LastName,
			Settings: map[string]string{
				"language": "en",
			},
		}
		if err := b.storage.AddUser(ctx, user); err != nil {
			b.logger.Error("Failed to register user",
				zap.Error(err), zap.Int64("user_id", userID))
		} else {
			b.logger.Info("New user registered", zap.Int64("user_id", userID))
			b.creditReferralFromPayload(ctx, message, userID)
		}
	}

	welcome := `Welcome! I'm your AI chat assistant. 🤖

Just send me a message to start chatting.
/new - start a fresh conversation
/save - save the current one
/premium - see subscription options
/help - all commands`

	b.sendMessage(message.Chat.ID, welcome)
}

// creditReferralFromPayload handles /start deep links of the form
// "/start <referrer id>" for newly registered users.
func (b *Bot) creditReferralFromPayload(ctx context.Context, message *tgbotapi.Message, userID int64) {
	payload := strings.TrimSpace(message.CommandArguments())
	if payload == "" {
		return
	}
	referrerID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || referrerID == userID {
		return
	}

	err = b.entitlements.CreditReferral(ctx, referrerID, userID)
	if errors.Is(err, entitlement.ErrDuplicateReferral) {
		return
	}
	if err != nil {
		b.logger.Error("Failed to credit referral",
			zap.Error(err),
			zap.Int64("referrer_id", referrerID),
			zap.Int64("referred_id", userID))
		return
	}

	count, err := b.storage.GetReferralCount(ctx, referrerID)
	if err != nil {
		return
	}
	if days, ok := b.entitlements.RewardFor(count); ok {
		b.sendMessage(referrerID,
			fmt.Sprintf("🎁 You've received %d days of premium for referring %d users!", days, count))
	}
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/new - Start a new conversation
/save [title] - Save the current conversation
/discard - Discard the current conversation
/saved - Show your saved conversations
/premium - Premium subscription options
/status - Your subscription status
/help - Show this help message`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	_, err := b.sessions.StartSession(ctx, message.From.ID, time.Now())
	switch {
	case errors.Is(err, session.ErrPendingSave):
		// the pending-save hook already rendered the prompt
	case errors.Is(err, session.ErrQuotaExceeded):
		b.sendMessage(message.Chat.ID,
			"You've reached your weekly conversation limit. Upgrade with /premium for more.")
	case err != nil:
		b.logger.Error("Failed to start session",
			zap.Error(err), zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a new chat. Please try again.")
	default:
		b.sendMessage(message.Chat.ID, "Starting a new chat. How can I help you?")
	}
}

func (b *Bot) handleSave(ctx context.Context, message *tgbotapi.Message) {
	title := strings.TrimSpace(message.CommandArguments())
	err := b.sessions.SaveSession(ctx, message.From.ID, title)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		b.sendMessage(message.Chat.ID, "There's no active conversation to save.")
	case err != nil:
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your conversation. Please try again.")
	default:
		b.sendMessage(message.Chat.ID, "Conversation saved. Start a new one with /new.")
	}
}

func (b *Bot) handleDiscard(message *tgbotapi.Message) {
	if b.sessions.DiscardSession(message.From.ID) {
		b.sendMessage(message.Chat.ID, "Conversation discarded.")
	} else {
		b.sendMessage(message.Chat.ID, "There's no active conversation to discard.")
	}
}

func (b *Bot) handleSaved(ctx context.Context, message *tgbotapi.Message) {
	limits := b.entitlements.LimitsFor(ctx, message.From.ID)
	saved, err := b.storage.GetConversations(ctx, message.From.ID, limits.SavedConversations)
	if err != nil {
		b.logger.Error("Failed to get saved conversations",
			zap.Error(err), zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your saved chats.")
		return
	}
	if len(saved) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any saved conversations yet.")
		return
	}

	response := "Your saved conversations:\n\n"
	for _, conv := range saved {
		response += fmt.Sprintf("• %s (%d messages, %s)\n",
			conv.Title, conv.MessageCount, conv.SavedAt.Format("2006-01-02"))
	}
	b.sendMessage(message.Chat.ID, response)
}

func (b *Bot) handlePremium(message *tgbotapi.Message) {
	labels := []struct {
		code  string
		label string
	}{
		{entitlement.OneMonth, "1 Month"},
		{entitlement.ThreeMonths, "3 Months"},
		{entitlement.SixMonths, "6 Months"},
		{entitlement.TwelveMonths, "1 Year"},
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(labels))
	for _, entry := range labels {
		price, err := b.entitlements.PriceFor(entry.code)
		if err != nil {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s - %.2f TON", entry.label, price),
				"premium_"+entry.code,
			),
		))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID,
		"🌟 Premium Subscription Options:\n\nChoose your subscription duration:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send premium menu",
			zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	limits := b.entitlements.LimitsFor(ctx, userID)

	messages := "unlimited"
	if limits.MessagesPerConversation != models.UnlimitedMessages {
		messages = strconv.Itoa(limits.MessagesPerConversation)
	}
	response := fmt.Sprintf("Tier: %s\nMessages per conversation: %s\nConversations per week: %d\nSaved conversations: %d",
		limits.Tier, messages, limits.ConversationsPerWeek, limits.SavedConversations)

	if user, err := b.storage.GetUser(ctx, userID); err == nil && user.PremiumActive(time.Now()) {
		response += fmt.Sprintf("\nPremium expires: %s", user.PremiumExpiry.Format("2006-01-02"))
	}
	b.sendMessage(message.Chat.ID, response)
}

func (b *Bot) isAdmin(message *tgbotapi.Message) bool {
	return message.From.ID == b.cfg.AdminID ||
		(b.cfg.AdminUsername != "" &&
			message.From.UserName == strings.TrimPrefix(b.cfg.AdminUsername, "@"))
}

func (b *Bot) handleAdminCommand(ctx context.Context, message *tgbotapi.Message) {
	if !b.isAdmin(message) {
		b.sendMessage(message.Chat.ID, "Unauthorized access.")
		return
	}

	args := strings.Fields(message.CommandArguments())
	switch message.Command() {
	case "promote":
		if len(args) != 2 {
			b.sendMessage(message.Chat.ID, "Usage: /promote <user id> <1_month|3_months|6_months|12_months>")
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(message.Chat.ID, "Invalid user id.")
			return
		}
		if err := b.entitlements.Promote(ctx, userID, args[1]); err != nil {
			b.reportAdminError(message.Chat.ID, err)
			return
		}
		b.sendMessage(message.Chat.ID, fmt.Sprintf("User %d promoted to premium (%s).", userID, args[1]))

	case "extend":
		if len(args) != 2 {
			b.sendMessage(message.Chat.ID, "Usage: /extend <user id> <days>")
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		days, err2 := strconv.Atoi(args[1])
		if err != nil || err2 != nil {
			b.sendMessage(message.Chat.ID, "Invalid arguments.")
			return
		}
		if err := b.entitlements.Extend(ctx, userID, days); err != nil {
			b.reportAdminError(message.Chat.ID, err)
			return
		}
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Extended premium for user %d by %d days.", userID, days))

	case "discount":
		if len(args) != 2 {
			b.sendMessage(message.Chat.ID, "Usage: /discount <duration> <percent>")
			return
		}
		percent, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			b.sendMessage(message.Chat.ID, "Invalid percentage.")
			return
		}
		if err := b.entitlements.SetDiscount(args[0], percent); err != nil {
			b.reportAdminError(message.Chat.ID, err)
			return
		}
		price, _ := b.entitlements.PriceFor(args[0])
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Discount set. %s now costs %.2f TON.", args[0], price))

	case "ban":
		if len(args) < 1 {
			b.sendMessage(message.Chat.ID, "Usage: /ban <user id> [reason]")
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(message.Chat.ID, "Invalid user id.")
			return
		}
		reason := strings.Join(args[1:], " ")
		if err := b.storage.UpdateBanStatus(ctx, userID, true, reason); err != nil {
			b.reportAdminError(message.Chat.ID, err)
			return
		}
		b.logger.Warn("User banned",
			zap.Int64("user_id", userID), zap.String("reason", reason))
		b.sendMessage(message.Chat.ID, fmt.Sprintf("User %d banned.", userID))

	case "confirm":
		if len(args) != 1 {
			b.sendMessage(message.Chat.ID, "Usage: /confirm <user id>")
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(message.Chat.ID, "Invalid user id.")
			return
		}
		payment, err := b.payments.Confirm(ctx, userID)
		if errors.Is(err, entitlement.ErrNoPendingPayment) {
			b.sendMessage(message.Chat.ID, fmt.Sprintf("User %d has no pending payment.", userID))
			return
		}
		if err != nil {
			b.reportAdminError(message.Chat.ID, err)
			return
		}
		b.sendMessage(message.Chat.ID,
			fmt.Sprintf("Payment of %.2f TON confirmed, user %d promoted (%s).",
				payment.Price, userID, payment.DurationCode))
		b.sendMessage(userID, "✅ Your payment was confirmed. Premium is now active! Check /status.")
	}
}

func (b *Bot) reportAdminError(chatID int64, err error) {
	switch {
	case errors.Is(err, entitlement.ErrInvalidDuration):
		b.sendMessage(chatID, "Unknown duration. Use 1_month, 3_months, 6_months or 12_months.")
	case errors.Is(err, storage.ErrNotFound):
		b.sendMessage(chatID, "No such user.")
	default:
		b.sendErrorMessage(chatID, "Operation failed. Check the logs.")
	}
}

func (b *Bot) handleCallback(callback *tgbotapi.CallbackQuery) {
	ctx := context.Background()
	userID := callback.From.ID

	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
			b.logger.Error("Failed to answer callback", zap.Error(err))
		}
	}()

	if b.entitlements.IsBanned(ctx, userID) {
		return
	}

	data := callback.Data
	switch {
	case data == "save_chat":
		if err := b.sessions.SaveSession(ctx, userID, ""); err != nil {
			b.sendErrorMessage(callback.Message.Chat.ID, "Sorry, I couldn't save your conversation.")
			return
		}
		b.sendMessage(callback.Message.Chat.ID, "Conversation saved. Start a new one with /new.")

	case data == "discard_chat":
		b.sessions.DiscardSession(userID)
		b.sendMessage(callback.Message.Chat.ID, "Conversation discarded. Start a new one with /new.")

	case strings.HasPrefix(data, "premium_"):
		code := strings.TrimPrefix(data, "premium_")
		payment, err := b.payments.Begin(userID, code)
		if err != nil {
			return
		}

		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("TON", "pay_ton_"+code),
				tgbotapi.NewInlineKeyboardButtonData("Telegram Stars", "pay_stars_"+code),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Bank Transfer", "pay_bank_"+code),
			),
		)
		msg := tgbotapi.NewMessage(callback.Message.Chat.ID,
			fmt.Sprintf("Total Amount: %.2f TON\nDuration: %s\n\nChoose a payment method:",
				payment.Price, strings.ReplaceAll(code, "_", " ")))
		msg.ReplyMarkup = markup
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error("Failed to send payment menu",
				zap.Error(err), zap.Int64("chat_id", callback.Message.Chat.ID))
		}

	case strings.HasPrefix(data, "pay_"):
		b.handlePaymentMethod(callback)
	}
}

// handlePaymentMethod renders the instructions for the chosen payment method.
// The payment stays pending until an admin runs /confirm.
func (b *Bot) handlePaymentMethod(callback *tgbotapi.CallbackQuery) {
	userID := callback.From.ID
	payment, ok := b.payments.Pending(userID)
	if !ok {
		b.sendMessage(callback.Message.Chat.ID, "Your payment session expired. Pick a plan again with /premium.")
		return
	}

	var instructions string
	switch {
	case strings.HasPrefix(callback.Data, "pay_ton_"):
		instructions = fmt.Sprintf("Send %.2f TON to the wallet address pinned in our channel.", payment.Price)
	case strings.HasPrefix(callback.Data, "pay_stars_"):
		instructions = "Pay with Telegram Stars via the invoice we'll send shortly."
	case strings.HasPrefix(callback.Data, "pay_bank_"):
		instructions = "Contact the admin for bank transfer details."
	default:
		return
	}

	b.logger.Info("Payment method chosen",
		zap.Int64("user_id", userID),
		zap.String("method", callback.Data),
		zap.String("duration", payment.DurationCode))
	b.sendMessage(callback.Message.Chat.ID,
		instructions+"\n\nAn admin will activate your subscription once the payment arrives.")
}

// promptSaveOrDiscard renders the save-or-discard choice for a user whose
// session is pending save.
func (b *Bot) promptSaveOrDiscard(userID int64) {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Save", "save_chat"),
			tgbotapi.NewInlineKeyboardButtonData("Discard", "discard_chat"),
		),
	)

	msg := tgbotapi.NewMessage(userID, "Would you like to save the current conversation?")
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send save prompt",
			zap.Error(err), zap.Int64("user_id", userID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err), zap.Int64("chat_id", chatID))
	}
}
