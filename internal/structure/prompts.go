package structure

// Prompt pieces for the receipt extraction call. The model is treated
// as an extraction function: text in, strict JSON out. Nothing it
// returns is trusted; the validator re-checks every field.

const systemInstr = "You are an extraction function. Return ONLY valid JSON that matches the schema. " +
	"Do not include explanations or extra keys.\n\n"

const schemaExample = "Schema example:\n" +
	"{\n" +
	"  \"vendor\": \"string\",\n" +
	"  \"purchase_date\": \"YYYY-MM-DD\",\n" +
	"  \"currency\": \"MYR\",\n" +
	"  \"subtotal\": 0.0,\n" +
	"  \"tax\": 0.0,\n" +
	"  \"total\": 0.0,\n" +
	"  \"payment_method\": \"string|null\",\n" +
	"  \"items\": [\n" +
	"    {\"description\": \"string\", \"quantity\": 1, \"unit_price\": 0.0, \"line_total\": 0.0}\n" +
	"  ],\n" +
	"  \"receipt_id\": \"string|null\",\n" +
	"  \"source_image_hash\": \"sha256:...\"\n" +
	"}\n"

func rulesPrompt(defaultCurrency string) string {
	return "Extract purchase information from the OCR text.\n\n" +
		"Rules:\n" +
		"- Output strictly valid JSON (no markdown, no comments).\n" +
		"- Enforce schema keys: vendor, purchase_date (YYYY-MM-DD), currency (ISO 4217), subtotal, tax, total,\n" +
		"  payment_method (string or null), items[{description, quantity, unit_price, line_total}],\n" +
		"  receipt_id (string or null), source_image_hash.\n" +
		"- Default currency to '" + defaultCurrency + "' unless another currency is explicitly shown.\n" +
		"- If subtotal/tax missing, set subtotal = total and tax = 0.\n" +
		"- Coerce numeric fields to numbers (no currency symbols).\n" +
		"- If quantity missing, default to 1.\n" +
		"- If uncertain about a field, set it to null (not 'N/A').\n" +
		"- Do NOT wrap the response in code fences.\n" +
		"- Output must begin with \"{\" and end with \"}\".\n\n"
}

const retryInstr = "Your previous output was invalid. Reply with JSON ONLY."
