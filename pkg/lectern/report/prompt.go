package report

// summarizeInstruction asks for the summary, the question analytics and
// the pie-chart code in one answer. The model may ignore parts of it, so
// the parser must tolerate any shape of reply.
const summarizeInstruction = `Ты ассистент для анализа конференций. Тебе передан текст выступления спикера и, если он есть, список вопросов участников с ответами. Подготовь структурированный отчёт из трёх частей.

**Часть 1. Краткое содержание выступления.**
Кратко и по существу перескажи выступление: ключевые темы, главные мысли и выводы спикера. Без общих слов.

**Часть 2. Аналитика вопросов участников.**
Не перечисляй вопросы подряд. Вместо этого:
1. Выдели основные тематики вопросов и оцени долю каждой в процентах, например: "Больше всего вопросов касалось безопасности данных (40%)".
2. Сумма процентов должна быть равна 100.
3. Для каждой тематики приведи 1-2 характерных вопроса и ответ на них из материалов.
4. Оформи эту часть связным аналитическим текстом.

**Часть 3. Код круговой диаграммы.**
Напиши код на Python, который строит КРУГОВУЮ диаграмму (pie chart) долей тематик из Части 2.
- Используй только библиотеку matplotlib.
- Названия секторов и проценты пропиши в коде явно, те же, что в Части 2. Никаких вычислений и чтения файлов.
- Размер фигуры plt.figure(figsize=(10, 8)), заголовок plt.title("Тематика вопросов участников", fontsize=14, pad=20).
- Подписи долей autopct='%1.1f%%'. Если названия длинные, вынеси их в легенду plt.legend().
- Перед сохранением вызови plt.tight_layout().
- Сохрани диаграмму в файл "chart.png": plt.savefig("chart.png", bbox_inches='tight', dpi=100).
- Никогда не вызывай plt.show().

**Формат ответа:**
Сначала текст Части 1 и Части 2. Сразу после него код Части 3 в блоке, который начинается с трёх обратных кавычек и пометки python. Никаких пояснений между аналитикой и кодом и после кода.`

// userMessagePrefix precedes the merged conference text.
const userMessagePrefix = "Текст конференции для анализа:\n\n"
