// Package messages renders the MarkdownV2 texts the bot sends.
package messages

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-savings-365/internal/models"
)

// ParseMode is the parse mode every text from this package expects.
const ParseMode = tgbotapi.ModeMarkdownV2

func esc(s string) string { return tgbotapi.EscapeText(ParseMode, s) }

func money(n int) string { return esc(humanize.Comma(int64(n))) }

func numberList(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return esc(strings.Join(parts, ", "))
}

func rangeText() string {
	return esc(fmt.Sprintf("%d до %d", models.MinNumber, models.MaxNumber))
}

// Reminder is the hourly nudge for users who have not topped up today.
// more tells whether suggest is a prefix of a longer list.
func Reminder(used, total int, suggest []int, more bool) string {
	var b strings.Builder
	b.WriteString("🔔 *Время пополнить счет\\!*\n\n")
	b.WriteString("💡 Выберите число от " + rangeText() + " и пополните брокерский счет\\.\n\n")
	fmt.Fprintf(&b, "📊 Ваш прогресс: *%d*/%d\n", used, models.MaxNumber)
	b.WriteString("💰 Накоплено: *" + money(total) + "* рублей")
	if len(suggest) > 0 {
		b.WriteString("\n\n🎯 Предлагаю числа: " + numberList(suggest))
		if more {
			b.WriteString("\\.\\.\\.")
		}
	}
	return b.String()
}

// Congratulation goes to users who already topped up today and opted in.
func Congratulation(used, total int) string {
	return "🎉 *Отлично\\!* Сегодня вы уже пополнили счет\\!\n\n" +
		"💰 Общая сумма: *" + money(total) + "* рублей\n" +
		fmt.Sprintf("📊 Использовано чисел: *%d*/%d\n\n", used, models.MaxNumber) +
		"Увидимся завтра\\! 😊"
}

// Strategy is the intro shown after «Начать копить!».
func Strategy(now time.Time) string {
	target := now.AddDate(1, 0, 0).Format("02.01.2006")
	return esc(fmt.Sprintf("Сумма к %s составит %s, если будете придерживаться стратегии.",
		target, humanize.Comma(int64(models.StrategyTotal())))) +
		"\n" + AskNumber()
}

func Welcome() string {
	return esc("Стратегия накопления в один год: каждый день пополняйте счет на число от 1 до 365, не повторяясь.")
}

func AskNumber() string {
	return "Введите сумму для пополнения от " + rangeText()
}

func NotANumber() string {
	return "Введите целое число от " + rangeText()
}

func StartFirst() string {
	return esc(`Начните с команды /start и нажмите кнопку "Начать копить!"`)
}

func ConfirmTopUp(n int) string {
	return esc(fmt.Sprintf("Вы пополнили счет на %d?", n))
}

// NumberUsed suggests the closest free numbers.
func NumberUsed(n int, suggest []int) string {
	txt := esc(fmt.Sprintf("Число %d уже использовано.", n))
	if len(suggest) > 0 {
		txt += " Свободные: " + numberList(suggest)
	}
	return txt
}

func AlreadyToppedUp(total int) string {
	return "✅ Сегодня вы уже пополнили счет\\. Накоплено: *" + money(total) + "* рублей\\. Возвращайтесь завтра\\!"
}

func ToppedUp(n, used, total int) string {
	return esc(fmt.Sprintf("Запомнил, что пополнили на %d.", n)) + "\n" +
		fmt.Sprintf("📊 Прогресс: *%d*/%d\n", used, models.MaxNumber) +
		"💰 Накоплено: *" + money(total) + "* рублей"
}

func Stats(st models.UserStats) string {
	var b strings.Builder
	b.WriteString("📈 *Статистика*\n\n")
	b.WriteString("💰 Накоплено: *" + money(st.TotalAmount) + "* из " + money(models.StrategyTotal()) + " рублей\n")
	fmt.Fprintf(&b, "📊 Использовано чисел: *%d*/%d\n", st.UsedCount, models.MaxNumber)
	fmt.Fprintf(&b, "📅 Дней с начала: *%d*\n", st.DaysFromStart)
	if n := len(st.RemainingNumbers); n > 0 {
		b.WriteString("🎯 Свободные числа: " + numberList(Suggestions(st.RemainingNumbers, 10)))
		if n > 10 {
			b.WriteString("\\.\\.\\.")
		}
	} else {
		b.WriteString("🏆 Все числа использованы\\!")
	}
	return b.String()
}

func AskHour() string { return esc("Установите время уведомления!") }

func HourSet(hour int) string {
	return esc(fmt.Sprintf("Буду напоминать в %d:00.", hour))
}

func AskCongratulations() string {
	return esc("Присылать поздравление, если вы уже пополнили счет до напоминания?")
}

func CongratulationsSet(on bool) string {
	if on {
		return esc("Поздравления включены.")
	}
	return esc("Поздравления выключены.")
}

func AskReset() string {
	return esc("Сбросить прогресс? Все использованные числа и сумма обнулятся, время уведомлений сохранится.")
}

func ResetDone() string { return esc("Прогресс сброшен. Начинаем заново!") }

func Cancelled() string { return esc("Отменено.") }

func Forbidden() string { return esc("Команда доступна только администратору.") }

func BackupDone(path string) string {
	if path == "" {
		return esc("Данных пока нет, резервная копия не нужна.")
	}
	return esc("Резервная копия создана: " + path)
}

func BroadcastDone(hour int, fired bool) string {
	if !fired {
		return esc(fmt.Sprintf("Рассылка на %d:00 сегодня уже была.", hour))
	}
	return esc(fmt.Sprintf("Рассылка на %d:00 отправлена.", hour))
}

func BadHour(hours []int) string {
	return esc("Укажите час рассылки: ") + numberList(hours)
}

func SchedulerDown() string { return esc("Планировщик уведомлений не запущен в этом процессе.") }

func InternalError() string { return esc("Что-то пошло не так, попробуйте позже.") }

func Help() string {
	return esc("/start — начать\n" +
		"/stats — статистика\n" +
		"/time — время напоминаний\n" +
		"/congrats — поздравления\n" +
		"/reset — начать заново\n" +
		"/help — помощь")
}

// Suggestions returns at most n numbers from remaining.
func Suggestions(remaining []int, n int) []int {
	if len(remaining) <= n {
		return remaining
	}
	return remaining[:n]
}

// Nearest returns up to n free numbers closest to want, ascending.
func Nearest(remaining []int, want, n int) []int {
	if len(remaining) <= n {
		return remaining
	}
	// remaining is ascending: find the insertion point, then widen the window
	i := 0
	for i < len(remaining) && remaining[i] < want {
		i++
	}
	lo, hi := i, i
	for hi-lo < n {
		switch {
		case lo == 0:
			hi++
		case hi == len(remaining):
			lo--
		case want-remaining[lo-1] <= remaining[hi]-want:
			lo--
		default:
			hi++
		}
	}
	return remaining[lo:hi]
}
