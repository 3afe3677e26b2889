//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lehigh-university-libraries/pagereader/internal/providers"
	"github.com/otiai10/gosseract/v2"
)

func init() {
	providers.Register("tesseract", "", func() providers.Provider { return New() })
}

// Tesseract runs OCR locally. It ignores the prompt and model and reads
// only the image.
type Tesseract struct {
	clientFactory func() *gosseract.Client
}

func New() *Tesseract {
	return &Tesseract{clientFactory: gosseract.NewClient}
}

// Languages returns the TESSERACT_LANGS setting, "jpn+eng" style or comma
// separated, defaulting to Japanese and English.
func Languages() []string {
	raw := os.Getenv("TESSERACT_LANGS")
	if raw == "" {
		return []string{"jpn", "eng"}
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '+' })
}

func (t *Tesseract) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	if len(config.Image) == 0 {
		return "", fmt.Errorf("tesseract needs an image")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(Languages()...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(config.Image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
