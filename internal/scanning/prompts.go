package scanning

// documentPrompt is the shared prompt used by all LLM providers for ordinary pages
const documentPrompt = `You are reading a scanned business document such as an invoice, receipt, payment slip or bank statement.

Transcribe ALL of the text in the image exactly as written, top to bottom, keeping line breaks.

Important:
- Keep labels and their values on the same line, e.g. "Customer Name: Li Ming"
- Keep numbers, dates and currency symbols exactly as printed
- Do not summarize, translate or explain anything
- Do not use markdown code blocks`

// tablePrompt is used when the caller says the page is mostly a table
const tablePrompt = `You are reading a scanned business document that contains a table.

Transcribe the table as a markdown table using "|" between cells, one row per line, including the header row. Transcribe any text outside the table as plain lines.

Important:
- If the table has two columns of labels and values, keep that layout: | Field Name | Value |
- Keep numbers, dates and currency symbols exactly as printed
- Do not summarize, translate or explain anything
- Do not wrap the output in a code block`

// systemPrompt gives chat models context before the page prompt
const systemPrompt = "You are an expert at reading text from scanned documents. You transcribe every character accurately and never invent content."

func promptFor(hint Hint) string {
	if hint == HintTable {
		return tablePrompt
	}
	return documentPrompt
}
