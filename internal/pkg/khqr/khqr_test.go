package khqr

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/your-org/storefront-backend/internal/pkg/errs"
)

func testEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder(Config{
		MerchantAccount:  "merchant@bank",
		MerchantName:     "Example Shop",
		MerchantCity:     "Phnom Penh",
		MerchantCategory: "5999",
		CountryCode:      "KH",
	})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	return enc
}

// parseTLV splits a payload into tag -> value in order of appearance.
func parseTLV(t *testing.T, payload string) ([]string, map[string]string) {
	t.Helper()
	var order []string
	fields := make(map[string]string)
	for i := 0; i < len(payload); {
		if i+4 > len(payload) {
			t.Fatalf("truncated TLV header at offset %d in %q", i, payload)
		}
		tag := payload[i : i+2]
		length, err := strconv.Atoi(payload[i+2 : i+4])
		if err != nil {
			t.Fatalf("bad TLV length for tag %s: %v", tag, err)
		}
		if i+4+length > len(payload) {
			t.Fatalf("TLV value for tag %s overruns payload", tag)
		}
		order = append(order, tag)
		fields[tag] = payload[i+4 : i+4+length]
		i += 4 + length
	}
	return order, fields
}

func TestChecksumKnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE check value from the published catalogue.
	if got := Checksum([]byte("123456789")); got != 0x29B1 {
		t.Errorf("Checksum(123456789) = %04X, want 29B1", got)
	}
}

func TestEncodeUSDPayloadLayout(t *testing.T) {
	enc := testEncoder(t)
	payload, err := enc.Encode(25, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	order, fields := parseTLV(t, payload)
	wantOrder := []string{"00", "01", "30", "52", "53", "54", "58", "59", "60", "63"}
	if strings.Join(order, ",") != strings.Join(wantOrder, ",") {
		t.Errorf("tag order = %v, want %v", order, wantOrder)
	}

	checks := map[string]string{
		"00": "01",
		"01": "12",
		"30": "0013merchant@bank",
		"52": "5999",
		"53": "840",
		"54": "25.00",
		"58": "KH",
		"59": "Example Shop",
		"60": "Phnom Penh",
	}
	for tag, want := range checks {
		if fields[tag] != want {
			t.Errorf("tag %s = %q, want %q", tag, fields[tag], want)
		}
	}
}

func TestEncodeCRCMatchesIndependentRecompute(t *testing.T) {
	enc := testEncoder(t)
	payload, err := enc.Encode(10.00, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The CRC value is the last 4 characters; its input is everything before
	// it, including the "6304" header.
	body := payload[:len(payload)-4]
	if !strings.HasSuffix(body, "6304") {
		t.Fatalf("payload does not end in a CRC field: %q", payload)
	}
	want := fmt.Sprintf("%04X", Checksum([]byte(body)))
	if got := payload[len(payload)-4:]; got != want {
		t.Errorf("CRC field = %s, independently recomputed %s", got, want)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := testEncoder(t)
	first, err := enc.Encode(10.00, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	second, err := enc.Encode(10.00, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if first != second {
		t.Errorf("Encode is not deterministic:\n%q\n%q", first, second)
	}
}

func TestEncodeCurrencyDecimals(t *testing.T) {
	enc := testEncoder(t)

	khr, err := enc.Encode(25, "KHR")
	if err != nil {
		t.Fatalf("Encode KHR failed: %v", err)
	}
	_, fields := parseTLV(t, khr)
	if fields["53"] != "116" {
		t.Errorf("KHR currency code = %q, want 116", fields["53"])
	}
	if fields["54"] != "25" {
		t.Errorf("KHR amount = %q, want 25 (no decimal point)", fields["54"])
	}

	usd, err := enc.Encode(25, "USD")
	if err != nil {
		t.Fatalf("Encode USD failed: %v", err)
	}
	_, fields = parseTLV(t, usd)
	if fields["53"] != "840" {
		t.Errorf("USD currency code = %q, want 840", fields["53"])
	}
	if fields["54"] != "25.00" {
		t.Errorf("USD amount = %q, want 25.00", fields["54"])
	}
}

func TestEncodeZeroAmountOmitsAmountField(t *testing.T) {
	enc := testEncoder(t)
	payload, err := enc.Encode(0, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	order, _ := parseTLV(t, payload)
	for _, tag := range order {
		if tag == "54" {
			t.Error("zero-amount payload must not contain an amount field")
		}
	}
}

func TestEncodeTruncatesMerchantFields(t *testing.T) {
	enc, err := NewEncoder(Config{
		MerchantAccount: "merchant@bank",
		MerchantName:    "A Very Long Merchant Display Name Limited",
		MerchantCity:    "A City With A Long Name",
	})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	payload, err := enc.Encode(1, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, fields := parseTLV(t, payload)
	if len(fields["59"]) != 25 {
		t.Errorf("merchant name length = %d, want 25", len(fields["59"]))
	}
	if len(fields["60"]) != 15 {
		t.Errorf("merchant city length = %d, want 15", len(fields["60"]))
	}
}

func TestEncodeTruncatesMultiByteMerchantName(t *testing.T) {
	enc, err := NewEncoder(Config{
		MerchantAccount: "merchant@bank",
		MerchantName:    strings.Repeat("ផ", 30),
		MerchantCity:    "Phnom Penh",
	})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	payload, err := enc.Encode(1, "USD")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, fields := parseTLV(t, payload)
	name := fields["59"]
	if !utf8.ValidString(name) {
		t.Errorf("merchant name is not valid UTF-8: %q", name)
	}
	if utf8.RuneCountInString(name) != 25 {
		t.Errorf("merchant name rune count = %d, want 25", utf8.RuneCountInString(name))
	}
}

func TestNewEncoderRequiresMerchantAccount(t *testing.T) {
	_, err := NewEncoder(Config{MerchantAccount: "   "})
	if err == nil {
		t.Fatal("expected configuration error for blank merchant account")
	}
	if !errs.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestEncodeRejectsUnsupportedCurrency(t *testing.T) {
	enc := testEncoder(t)
	if _, err := enc.Encode(10, "EUR"); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError for EUR, got %v", err)
	}
}

func TestEncodeRejectsNegativeAmount(t *testing.T) {
	enc := testEncoder(t)
	if _, err := enc.Encode(-1, "USD"); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError for negative amount, got %v", err)
	}
}

func TestEncodeWithImageReturnsPayloadAndImage(t *testing.T) {
	enc := testEncoder(t)
	qr, err := enc.EncodeWithImage(10, "USD", 256)
	if err != nil {
		t.Fatalf("EncodeWithImage failed: %v", err)
	}
	want, _ := enc.Encode(10, "USD")
	if qr.Payload != want {
		t.Errorf("image payload = %q, want %q", qr.Payload, want)
	}
	if qr.ImageBase64 == "" {
		t.Error("expected a base64 image")
	}
}
