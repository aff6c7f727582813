package bot

import (
	"errors"
	"fmt"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

const msgInternal = "😔 Что-то пошло не так. Попробуйте ещё раз чуть позже."

var errorMessages = []struct {
	err  error
	text string
}{
	{service.ErrBirthDataRequired, "🪐 Для этого нужны данные рождения. Укажите их в /settings."},
	{service.ErrPartnerLimitReached, "Достигнут лимит партнёров для вашего тарифа."},
	{service.ErrPartnerNotFound, "Партнёр не найден."},
	{service.ErrSpreadNotFound, "Такого расклада нет."},
	{service.ErrQuestionRequired, "Для этого расклада нужен вопрос."},
	{service.ErrReadingNotFound, "Расклад не найден."},
	{service.ErrInvalidRating, "Оценка должна быть от 1 до 5."},
	{tarot.ErrUnknownCard, "Такой карты нет."},
	{service.ErrInvalidPlan, "Неизвестный тариф."},
	{service.ErrInvalidPeriod, "Такой срок подписки недоступен."},
	{service.ErrPromoNotFound, "Промокод не найден."},
	{service.ErrPromoInvalid, "Промокод недействителен или не подходит для этого тарифа."},
	{service.ErrPromoUsed, "Вы уже использовали этот промокод."},
	{service.ErrMethodUnavailable, "Этот способ оплаты сейчас недоступен."},
	{service.ErrPaymentMismatch, "Платёж не совпадает со счётом. Создайте новый счёт."},
	{service.ErrPaymentNotFound, "Платёж не найден."},
	{service.ErrSubscriptionNotActive, "У вас нет активной подписки."},
	{service.ErrInvalidInput, "Некорректные данные."},
	{model.ErrInvalidName, "Имя должно состоять из букв (от 2 до 100 символов)."},
	{model.ErrFutureDate, "Дата не может быть в будущем."},
	{model.ErrTooOld, "Проверьте год: дата слишком далеко в прошлом."},
	{model.ErrInvalidDate, "Не удалось распознать дату. Формат: ДД.ММ.ГГГГ, например 25.03.1990."},
	{model.ErrInvalidTime, "Не удалось распознать время. Формат: ЧЧ:ММ, например 14:30."},
	{model.ErrInvalidCity, "Название города должно быть от 2 до 100 символов."},
	{model.ErrInvalidPromoCode, "Промокод состоит из 4–20 латинских букв и цифр."},
	{model.ErrInvalidQuestion, "Вопрос должен быть от 3 до 500 символов."},
	{payment.ErrNotConfigured, "Оплата картой сейчас недоступна."},
}

// userMessage translates an error into a reply. ok is false for unexpected
// errors, which get the generic apology and are logged.
func userMessage(err error) (text string, ok bool) {
	var fe *service.FeatureError
	if errors.As(err, &fe) {
		return fmt.Sprintf("🔒 Доступно на тарифе «%s» и выше. Подробнее: /subscribe", fe.Plan.Title()), true
	}
	var le *service.LimitError
	if errors.As(err, &le) {
		return fmt.Sprintf("⏳ На сегодня лимит раскладов исчерпан (%d в день на тарифе «%s»). "+
			"Новые расклады будут доступны завтра или после перехода на другой тариф: /subscribe",
			le.Limit, le.Plan.Title()), true
	}
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.text, true
		}
	}
	return msgInternal, false
}
