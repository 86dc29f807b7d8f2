package extractor

// validationSystemPrompt asks for a bare yes/no judgment before any paid
// extraction work happens.
const validationSystemPrompt = `You are a document classifier. Decide whether the provided document is an invoice (a bill requesting payment, typically with an invoice number, vendor, amounts due, and dates). Answer with exactly one word: "yes" or "no".`

const validationTextPrompt = `Is the following document an invoice? Answer "yes" or "no".

`

const validationImagePrompt = `Is this document an invoice? Answer "yes" or "no".`

// extractionSystemPrompt pins the exact output shape. The field names here
// are load-bearing: the decoder and the cached results both depend on them.
const extractionSystemPrompt = `You are an invoice data extraction assistant. Extract the following fields from the invoice and respond with ONLY a JSON object, no markdown and no commentary:

{
  "customerName": "name of the customer being billed",
  "vendorName": "name of the vendor issuing the invoice",
  "invoiceNumber": "the invoice number or identifier",
  "invoiceDate": "invoice issue date in YYYY-MM-DD format",
  "dueDate": "payment due date in YYYY-MM-DD format, or null if not present",
  "amount": total amount due in cents as an integer (e.g. $450.00 becomes 45000),
  "currency": "three-letter currency code, e.g. USD",
  "confidence": your confidence in the extraction as a number between 0 and 1
}

If a text field cannot be determined, use "[Not Found]". If the amount cannot be determined, use 0. If the currency cannot be determined, use "USD".`

const extractionTextPrompt = `Extract the invoice data from the following document text:

`

const extractionImagePrompt = `Extract the invoice data from this document image.`
