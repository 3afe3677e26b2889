//go:build tesseract

package cmd

import _ "github.com/lehigh-university-libraries/pagereader/internal/tesseract"
