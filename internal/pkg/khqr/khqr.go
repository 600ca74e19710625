// internal/pkg/khqr/khqr.go
package khqr

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
)

// EMV data object IDs used by the restricted KHQR profile.
const (
	tagPayloadFormat      = "00"
	tagPointOfInitiation  = "01"
	tagMerchantAccount    = "30"
	tagMerchantCategory   = "52"
	tagCurrency           = "53"
	tagAmount             = "54"
	tagCountryCode        = "58"
	tagMerchantName       = "59"
	tagMerchantCity       = "60"
	tagCRC                = "63"
	payloadFormatValue    = "01"
	initiationDynamic     = "12"
	maxMerchantNameLength = 25
	maxMerchantCityLength = 15
)

// Currency codes per ISO 4217.
const (
	CurrencyKHR = "KHR"
	CurrencyUSD = "USD"

	currencyCodeKHR = "116"
	currencyCodeUSD = "840"
)

// Config holds the merchant identity rendered into every payload.
type Config struct {
	MerchantAccount  string // bank account identifier, required
	MerchantName     string
	MerchantCity     string
	MerchantCategory string // 4-digit MCC
	CountryCode      string // 2-letter country code
}

// QR bundles the raw payload with its rendered raster image.
type QR struct {
	Payload     string `json:"payload"`
	ImageBase64 string `json:"image_base64"`
}

// Encoder renders amounts into scannable KHQR payloads. It is stateless and
// safe for concurrent use.
type Encoder struct {
	cfg Config
}

// NewEncoder validates the merchant configuration and returns an Encoder.
// A blank merchant account fails closed: no payload can ever be emitted.
func NewEncoder(cfg Config) (*Encoder, error) {
	if strings.TrimSpace(cfg.MerchantAccount) == "" {
		return nil, &errs.ConfigurationError{Setting: "KHQR merchant account", Reason: "is required"}
	}
	if cfg.MerchantName == "" {
		cfg.MerchantName = "Merchant"
	}
	if cfg.MerchantCity == "" {
		cfg.MerchantCity = "Phnom Penh"
	}
	if cfg.MerchantCategory == "" {
		cfg.MerchantCategory = "5999"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "KH"
	}
	return &Encoder{cfg: cfg}, nil
}

// Encode builds the Tag-Length-Value payload for the given amount and
// currency. The same inputs always produce byte-identical payloads.
func (e *Encoder) Encode(amount float64, currency string) (string, error) {
	if amount < 0 {
		return "", errs.NewValidation("amount must not be negative")
	}

	currencyCode, amountValue, err := formatAmount(amount, currency)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(tlv(tagPayloadFormat, payloadFormatValue))
	b.WriteString(tlv(tagPointOfInitiation, initiationDynamic))
	b.WriteString(tlv(tagMerchantAccount, tlv("00", e.cfg.MerchantAccount)))
	b.WriteString(tlv(tagMerchantCategory, e.cfg.MerchantCategory))
	b.WriteString(tlv(tagCurrency, currencyCode))
	if amountValue != "" {
		b.WriteString(tlv(tagAmount, amountValue))
	}
	b.WriteString(tlv(tagCountryCode, e.cfg.CountryCode))
	b.WriteString(tlv(tagMerchantName, truncate(e.cfg.MerchantName, maxMerchantNameLength)))
	b.WriteString(tlv(tagMerchantCity, truncate(e.cfg.MerchantCity, maxMerchantCityLength)))

	// The checksum covers everything emitted so far plus the CRC field's own
	// tag and length header.
	b.WriteString(tagCRC)
	b.WriteString("04")
	b.WriteString(fmt.Sprintf("%04X", Checksum([]byte(b.String()))))

	return b.String(), nil
}

// EncodeWithImage encodes the payload and renders it as a PNG of the given
// pixel size, returned base64 encoded alongside the raw payload.
func (e *Encoder) EncodeWithImage(amount float64, currency string, size int) (*QR, error) {
	payload, err := e.Encode(amount, currency)
	if err != nil {
		return nil, err
	}

	if size <= 0 {
		size = 256
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR image: %w", err)
	}

	return &QR{
		Payload:     payload,
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	}, nil
}

// tlv renders a single Tag-Length-Value field: 2-digit tag, 2-digit length
// of the value in characters, then the value.
func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

// formatAmount maps the currency to its numeric code and renders the amount
// with the currency's decimal convention: none for KHR, two for USD. A zero
// amount yields an empty value so the amount field is omitted entirely.
func formatAmount(amount float64, currency string) (code, value string, err error) {
	switch strings.ToUpper(currency) {
	case CurrencyKHR:
		code = currencyCodeKHR
		if amount > 0 {
			value = strconv.FormatFloat(amount, 'f', 0, 64)
		}
	case CurrencyUSD:
		code = currencyCodeUSD
		if amount > 0 {
			value = strconv.FormatFloat(amount, 'f', 2, 64)
		}
	default:
		return "", "", errs.NewValidation("unsupported currency %q", currency)
	}
	return code, value, nil
}

// truncate caps a merchant field at max characters without splitting a
// multi-byte rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
