package constants

import "strings"

// Well-known job types. Executors are registered per type at startup; these
// are only the tags shipped with the built-in executors.
const (
	JobTypeOCR        = "ocr"
	JobTypeNLP        = "nlp"
	JobTypeValidation = "validation"
)

// AllowedExtensions holds the default allowed file extensions for document
// ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"txt":  {},
	"json": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
