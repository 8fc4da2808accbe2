package dialogue

import "strings"

// NotCoveredPhrase is the fixed answer for questions the lecture does not cover.
const NotCoveredPhrase = "В лекции не рассматривается этот вопрос"

// User-facing replies that never come from the model.
const (
	MsgNotInitialized   = "❌ Ошибка: агент не инициализирован. Обратитесь к администратору."
	MsgEmptyQuestion    = "Пожалуйста, задайте вопрос."
	MsgTransportFailure = "❌ Произошла ошибка при обращении к языковой модели. Попробуйте позже."
)

const corpusSeparator = "----------------------------------------"

// SystemPrompt builds the closed-book instruction embedding the whole corpus.
func SystemPrompt(corpus string) string {
	var b strings.Builder
	b.WriteString("Ты ассистент спикера. Ты отвечаешь на вопросы слушателей только на основе текста лекции, приведённого ниже.\n\n")
	b.WriteString("Текст лекции:\n")
	b.WriteString(corpusSeparator + "\n")
	b.WriteString(corpus)
	b.WriteString("\n" + corpusSeparator + "\n\n")
	b.WriteString("Правила:\n")
	b.WriteString("1. Отвечай только по тексту лекции, не используй другие источники и общие знания.\n")
	b.WriteString("2. Если ответа в тексте нет, ответь ровно фразой: \"" + NotCoveredPhrase + "\".\n")
	b.WriteString("3. Ничего не выдумывай и не додумывай факты, цифры или цитаты.\n")
	b.WriteString("4. Отвечай на том же языке, на котором задан вопрос.\n")
	return b.String()
}
