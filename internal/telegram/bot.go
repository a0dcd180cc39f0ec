package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sandanbot/recharge/internal/blob"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/sandanbot/recharge/internal/storage"
)

// Bot - Telegram-интерфейс продавцов: получает предложения заказов,
// обрабатывает кнопки принять/выполнено/не выполнено и команды продавцов.
// Реализует транспорт движка раздачи.
type Bot struct {
	api           *tgbotapi.BotAPI
	sellerService services.SellerService
	sellerStorage storage.SellerStorage
	blobs         blob.Store
	logger        *log.Logger
}

// New создаёт бота по токену.
func New(token string, sellerService services.SellerService, sellerStorage storage.SellerStorage, blobs blob.Store, logger *log.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("telegram bot authorized as @%s", api.Self.UserName)
	return &Bot{
		api:           api,
		sellerService: sellerService,
		sellerStorage: sellerStorage,
		blobs:         blobs,
		logger:        logger,
	}, nil
}

// Run запускает цикл long polling до отмены контекста.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// SendOffer отправляет продавцу предложение заказа: чек об оплате
// с подписью и кнопкой принятия.
func (b *Bot) SendOffer(ctx context.Context, sellerID int64, order *models.Order) error {
	caption := offerText(order)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Принять заказ", "accept_"+strconv.FormatInt(order.ID, 10)),
		),
	)

	if order.ProofRef != "" {
		path, err := b.blobs.Path(order.ProofRef)
		if err == nil {
			photo := tgbotapi.NewPhoto(sellerID, tgbotapi.FilePath(path))
			photo.Caption = caption
			photo.ReplyMarkup = keyboard
			return b.send(ctx, photo)
		}
		b.logger.Printf("proof for order %d unavailable: %v", order.ID, err)
	}

	msg := tgbotapi.NewMessage(sellerID, caption)
	msg.ReplyMarkup = keyboard
	return b.send(ctx, msg)
}

// SendText отправляет продавцу произвольный текст.
func (b *Bot) SendText(ctx context.Context, sellerID int64, text string) error {
	return b.send(ctx, tgbotapi.NewMessage(sellerID, text))
}

// send выполняет отправку с уважением к контексту: API библиотеки
// контекстов не принимает.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(c)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	sellerID := message.Chat.ID

	seller, err := b.sellerStorage.Get(ctx, sellerID)
	if err != nil {
		if errors.Is(err, storage.ErrSellerNotFound) {
			b.reply(ctx, sellerID, "Вы не зарегистрированы как продавец. Обратитесь к администратору.")
			return
		}
		b.logger.Printf("failed to load seller %d: %v", sellerID, err)
		return
	}

	// Username и имя в Telegram меняются, подтягиваем их на каждом сообщении.
	if message.From != nil {
		if message.From.UserName != seller.Username || message.From.FirstName != seller.FirstName {
			if err := b.sellerStorage.UpdateProfile(ctx, sellerID, message.From.UserName, message.From.FirstName); err != nil {
				b.logger.Printf("failed to update profile for seller %d: %v", sellerID, err)
			}
		}
	}
	if err := b.sellerStorage.TouchLastActive(ctx, sellerID); err != nil {
		b.logger.Printf("failed to touch seller %d: %v", sellerID, err)
	}

	cmd, arg := splitCommand(message.Text)
	switch cmd {
	case "/start", "/help":
		b.reply(ctx, sellerID,
			"Команды продавца:\n"+
				"/orders - мои заказы\n"+
				"/active - включить/выключить активность\n"+
				"/nick <имя> - сменить отображаемое имя\n"+
				"/status - моё состояние")
	case "/orders":
		b.replyOrders(ctx, sellerID)
	case "/active":
		updated, err := b.sellerService.ToggleActive(ctx, sellerID)
		if err != nil {
			b.logger.Printf("failed to toggle seller %d: %v", sellerID, err)
			b.reply(ctx, sellerID, "Не получилось переключить активность, попробуйте позже.")
			return
		}
		if updated.IsActive {
			b.reply(ctx, sellerID, "Вы активны и будете получать заказы.")
		} else {
			b.reply(ctx, sellerID, "Вы выключены и не будете получать заказы.")
		}
	case "/nick":
		nickname := strings.TrimSpace(arg)
		if nickname == "" {
			b.reply(ctx, sellerID, "Использование: /nick <имя>")
			return
		}
		if err := b.sellerService.SetNickname(ctx, sellerID, nickname); err != nil {
			b.logger.Printf("failed to set nickname for seller %d: %v", sellerID, err)
			b.reply(ctx, sellerID, "Не получилось сменить имя, попробуйте позже.")
			return
		}
		b.reply(ctx, sellerID, "Имя обновлено: "+nickname)
	case "/status":
		b.reply(ctx, sellerID, statusText(seller))
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Сначала убираем "часики" на кнопке.
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Printf("failed to answer callback: %v", err)
	}

	sellerID := query.From.ID

	action, orderID, ok := parseCallback(query.Data)
	if !ok {
		b.logger.Printf("unknown callback %q from %d", query.Data, sellerID)
		return
	}

	switch action {
	case "accept":
		order, err := b.sellerService.Accept(ctx, orderID, sellerID)
		if err != nil {
			if errors.Is(err, services.ErrAlreadyTaken) {
				b.reply(ctx, sellerID, fmt.Sprintf("Заказ #%d уже принят другим продавцом.", orderID))
				return
			}
			b.logger.Printf("accept order %d by seller %d: %v", orderID, sellerID, err)
			b.reply(ctx, sellerID, "Не получилось принять заказ, попробуйте позже.")
			return
		}

		text := fmt.Sprintf("Заказ #%d закреплён за вами.\nПакет: %s\nПокупатель: %s", order.ID, order.Package, order.Username)
		msg := tgbotapi.NewMessage(sellerID, text)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Выполнено", "done_"+strconv.FormatInt(orderID, 10)),
				tgbotapi.NewInlineKeyboardButtonData("❌ Не выполнено", "fail_"+strconv.FormatInt(orderID, 10)),
			),
		)
		if err := b.send(ctx, msg); err != nil {
			b.logger.Printf("failed to send accept confirmation: %v", err)
		}
	case "done":
		if err := b.sellerService.Complete(ctx, orderID, sellerID); err != nil {
			b.replyActionError(ctx, sellerID, orderID, err)
			return
		}
		b.reply(ctx, sellerID, fmt.Sprintf("Заказ #%d отмечен выполненным.", orderID))
	case "fail":
		if err := b.sellerService.Fail(ctx, orderID, sellerID); err != nil {
			b.replyActionError(ctx, sellerID, orderID, err)
			return
		}
		b.reply(ctx, sellerID, fmt.Sprintf("Заказ #%d отмечен невыполненным, средства возвращены покупателю.", orderID))
	}
}

func (b *Bot) replyOrders(ctx context.Context, sellerID int64) {
	orders, err := b.sellerService.MyOrders(ctx, sellerID)
	if err != nil {
		b.logger.Printf("failed to list orders for seller %d: %v", sellerID, err)
		b.reply(ctx, sellerID, "Не получилось загрузить заказы, попробуйте позже.")
		return
	}
	if len(orders) == 0 {
		b.reply(ctx, sellerID, "У вас пока нет заказов.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Ваши заказы:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "#%d %s - %s\n", o.ID, o.Package, o.Status)
	}
	b.reply(ctx, sellerID, sb.String())
}

func (b *Bot) replyActionError(ctx context.Context, sellerID, orderID int64, err error) {
	if errors.Is(err, services.ErrAlreadyTaken) {
		b.reply(ctx, sellerID, fmt.Sprintf("Заказ #%d не в том статусе либо закреплён не за вами.", orderID))
		return
	}
	b.logger.Printf("order %d action by seller %d: %v", orderID, sellerID, err)
	b.reply(ctx, sellerID, "Не получилось обновить заказ, попробуйте позже.")
}

func (b *Bot) reply(ctx context.Context, sellerID int64, text string) {
	if err := b.send(ctx, tgbotapi.NewMessage(sellerID, text)); err != nil {
		b.logger.Printf("failed to send message to %d: %v", sellerID, err)
	}
}

func offerText(order *models.Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Новый заказ #%d\n", order.ID)
	fmt.Fprintf(&sb, "Пакет: %s\n", order.Package)
	fmt.Fprintf(&sb, "Сумма: %s\n", order.Price.StringFixed(2))
	fmt.Fprintf(&sb, "Покупатель: %s\n", order.Username)
	if order.Remark != "" {
		fmt.Fprintf(&sb, "Комментарий: %s\n", order.Remark)
	}
	return sb.String()
}

func statusText(seller *models.Seller) string {
	active := "выключены"
	if seller.IsActive {
		active = "активны"
	}
	participate := "не участвуете"
	if seller.ParticipateInDistribution {
		participate = "участвуете"
	}
	return fmt.Sprintf("Вы %s, в раздаче %s.\nИмя: %s\nУровень: %d\nЛимит заказов: %d",
		active, participate, seller.DisplayName(), seller.DistributionLevel, seller.MaxConcurrentOrders)
}

// splitCommand отделяет команду от аргумента: "/nick Вася" -> "/nick", "Вася".
func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = parts[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if len(parts) == 2 {
		arg = parts[1]
	}
	return cmd, arg
}

// parseCallback разбирает данные кнопки вида accept_123 / done_123 / fail_123.
func parseCallback(data string) (action string, orderID int64, ok bool) {
	for _, prefix := range []string{"accept_", "done_", "fail_"} {
		if strings.HasPrefix(data, prefix) {
			id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
			if err != nil {
				return "", 0, false
			}
			return strings.TrimSuffix(prefix, "_"), id, true
		}
	}
	return "", 0, false
}
