package doctext

import "testing"

func TestIsImageReference(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"invoice.pdf", false},
		{"scan.jpg", true},
		{"scan.JPEG", true},
		{"https://blob.example.com/files/receipt.png", true},
		{"https://blob.example.com/files/receipt.png?token=abc", true},
		{"https://blob.example.com/files/invoice.pdf#page=2", false},
		{"photo.webp", true},
		{"doc.txt", false},
		{"noextension", false},
	}
	for _, tt := range tests {
		if got := IsImageReference(tt.ref); got != tt.want {
			t.Errorf("IsImageReference(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "INVOICE   #123", "INVOICE #123"},
		{"newlines become spaces", "INVOICE\n#123\r\nTotal", "INVOICE #123 Total"},
		{"tabs", "a\t\tb", "a b"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_WhitespaceVariantsConverge(t *testing.T) {
	a := Normalize("INVOICE #123\nTotal:  $45.00")
	b := Normalize("INVOICE   #123 Total: $45.00")
	if a != b {
		t.Errorf("whitespace variants did not converge: %q vs %q", a, b)
	}
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n(INVOICE) Tj\n0 -14 Td\n[(Total:) -250 ($45.00)] TJ\nET\n")
	got := Normalize(textFromContentStream(stream))
	want := "INVOICE Total: $45.00"
	if got != want {
		t.Errorf("textFromContentStream = %q, want %q", got, want)
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, "plain"},
		{`with \(parens\)`, "with (parens)"},
		{`tab\there`, "tab\there"},
		{`octal\040space`, "octal space"},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("decodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractPDFText_Corrupt(t *testing.T) {
	if _, err := ExtractPDFText([]byte("not a pdf at all")); err == nil {
		t.Error("expected parse error for corrupt input")
	}
}
