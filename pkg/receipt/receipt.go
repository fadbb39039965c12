// Package receipt turns a photo of a bill into a structured receipt using a
// vision model. Model answers are loosely formatted, so parsing is tolerant of
// wrapping prose, code fences and currency-formatted numbers.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/h2non/filetype"

	"github.com/campuspay/campuspay/pkg/logger"
)

var (
	// ErrUnreadable is returned when the model answer cannot be turned into a
	// receipt
	ErrUnreadable = errors.New("could not read the receipt, please enter the details manually")

	ErrNotImage         = errors.New("file is not an image")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrImageTooLarge    = errors.New("image too large")
)

// Prompt asks the model for the fields Parse understands
const Prompt = `Read this receipt or bill. Reply with only a JSON object of the form
{"amount": <total as a number>, "currency": "<ISO code or symbol>", "date": "<YYYY-MM-DD>",
"items": [{"name": "<item>", "price": <number>}]}. Use null for anything you cannot read.`

// Vision models accept these image types
var supportedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type Item struct {
	Name  string `json:"name"`
	Price string `json:"price,omitempty"`
}

// Receipt holds the extracted fields. Amounts are decimal strings.
type Receipt struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Date     string `json:"date,omitempty"`
	Items    []Item `json:"items,omitempty"`
}

type Scanner struct {
	provider Provider
	maxBytes int
	timeout  time.Duration
}

func NewScanner(provider Provider, maxBytes int, timeout time.Duration) *Scanner {
	return &Scanner{provider: provider, maxBytes: maxBytes, timeout: timeout}
}

// Scan checks the image, asks the model and parses its answer
func (s *Scanner) Scan(ctx context.Context, image []byte) (*Receipt, error) {
	if len(image) == 0 || !filetype.IsImage(image) {
		return nil, ErrNotImage
	}
	if s.maxBytes > 0 && len(image) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrImageTooLarge, len(image), s.maxBytes)
	}

	kind, err := filetype.Match(image)
	if err != nil {
		return nil, ErrNotImage
	}
	if !supportedMIME[kind.MIME.Value] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, kind.MIME.Value)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	answer, err := s.provider.Extract(ctx, image, kind.MIME.Value, Prompt)
	if err != nil {
		logger.ErrorCF("receipt", "Receipt extraction failed", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	r, err := Parse(answer)
	if err != nil {
		logger.WarnCF("receipt", "Unreadable model answer", map[string]any{
			"answer": truncate(answer, 200),
		})
		return nil, err
	}
	return r, nil
}

type rawReceipt struct {
	Amount   json.RawMessage `json:"amount"`
	Total    json.RawMessage `json:"total"`
	Currency *string         `json:"currency"`
	Date     *string         `json:"date"`
	Items    []struct {
		Name  *string         `json:"name"`
		Price json.RawMessage `json:"price"`
	} `json:"items"`
}

// Parse extracts a receipt from a model answer. It accepts JSON wrapped in
// prose or markdown fences and amounts given as numbers or as strings with
// currency symbols and thousands separators. A missing or unreadable total
// fails the whole parse with ErrUnreadable.
func Parse(answer string) (*Receipt, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, ErrUnreadable
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	amountField := raw.Amount
	if len(amountField) == 0 || string(amountField) == "null" {
		amountField = raw.Total
	}
	amount, ok := parseAmount(amountField)
	if !ok {
		return nil, ErrUnreadable
	}

	r := &Receipt{Amount: amount}
	if raw.Currency != nil {
		r.Currency = strings.TrimSpace(*raw.Currency)
	}
	if raw.Date != nil {
		r.Date = strings.TrimSpace(*raw.Date)
	}
	for _, it := range raw.Items {
		if it.Name == nil || strings.TrimSpace(*it.Name) == "" {
			continue
		}
		price, _ := parseAmount(it.Price)
		r.Items = append(r.Items, Item{Name: strings.TrimSpace(*it.Name), Price: price})
	}
	return r, nil
}

// parseAmount normalizes a JSON number or string like "₹1,250.50" to "1250.50".
// Negative amounts and comma-decimal forms such as "1.234,56" are rejected.
func parseAmount(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return numberAmount(n)
	}

	runes := []rune(s)
	var b strings.Builder
	seenDot := false
	for i, c := range runes {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '-' || c == '\u2212':
			return "", false
		case c == '.' && seenDot:
			return "", false
		case c == '.' && b.Len() > 0:
			seenDot = true
			b.WriteRune(c)
		case c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && (i == 0 || !unicode.IsLetter(runes[i-1])):
			// "$.50" but not "Rs.50"
			seenDot = true
			b.WriteString("0.")
		case c == ',' && seenDot:
			return "", false
		case c == ',' || c == ' ' || c == '\u00a0':
		case b.Len() == 0:
			// leading currency symbols or codes
		default:
			// trailing text such as " INR"
			return finishAmount(b.String())
		}
	}
	return finishAmount(b.String())
}

// numberAmount formats a JSON number, including exponent forms, as a plain
// decimal string
func numberAmount(n json.Number) (string, bool) {
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || r.Sign() <= 0 {
		return "", false
	}
	if r.IsInt() {
		return r.Num().String(), true
	}
	out := strings.TrimRight(r.FloatString(18), "0")
	return finishAmount(out)
}

func finishAmount(s string) (string, bool) {
	s = strings.TrimSuffix(s, ".")
	if s == "" || strings.Trim(s, "0.") == "" {
		return "", false
	}
	return s, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
