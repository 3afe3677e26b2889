package processing

import "fmt"

func buildOCRPrompt() string {
	return `You are performing OCR (Optical Character Recognition) on a photographed page of a children's reader.

Your task is to extract ALL visible text from the image exactly as it appears, preserving:
- Line breaks and reading order
- Punctuation, including Japanese punctuation such as 。、！？
- Kana and kanji exactly as printed

INSTRUCTIONS:
1. Read the page in its natural reading order
2. Transcribe every piece of visible text, including small furigana
3. Preserve the original line breaks
4. Do not add any interpretation, commentary, or explanations
5. If text is partially obscured or unclear, transcribe what you can see and use [?] for illegible portions

OUTPUT FORMAT:
Provide ONLY the extracted text. Do not include phrases like "Here is the text:" or "The image contains:".`
}

func buildTextPrompt(ocrText string) string {
	return fmt.Sprintf(`You are an expert in Japanese picture books. The following fragments were extracted by OCR from a photographed page:

%s

Please:
1. Remove noise such as page numbers, textbook levels (for example "4A") and watermarks.
2. Remove duplicated furigana readings.
3. Join broken lines into natural sentences.
4. Identify the teaching instruction, if any (for example "でてきたものは？げんきよく読みましょう。"). Leave it empty when there is none.
5. Identify the actual story text.
6. Split the story text into segments of two or three sentences that can each be read aloud on their own.
7. Translate the story text into Chinese.

Respond with a single JSON object and nothing else:
{"instruction": "...", "main_text": "...", "segments": ["...", "..."], "translation": "..."}`, ocrText)
}
