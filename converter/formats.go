package converter

import (
	"fmt"
	"strings"

	"docconvert/models"
)

type SourceFormat string

const (
	SourcePDF  SourceFormat = "pdf"
	SourceDOC  SourceFormat = "doc"
	SourceDOCX SourceFormat = "docx"
	SourceODT  SourceFormat = "odt"
	SourceRTF  SourceFormat = "rtf"
)

var sourceFormats = map[SourceFormat]bool{
	SourcePDF:  true,
	SourceDOC:  true,
	SourceDOCX: true,
	SourceODT:  true,
	SourceRTF:  true,
}

type TargetFormat string

const (
	TargetPNG  TargetFormat = "png"
	TargetWord TargetFormat = "word"
	TargetPDF  TargetFormat = "pdf"
)

// targetExtensions holds the file extension of artifacts produced per target.
var targetExtensions = map[TargetFormat]string{
	TargetPNG:  "png",
	TargetWord: "docx",
	TargetPDF:  "pdf",
}

func (t TargetFormat) Extension() string {
	return targetExtensions[t]
}

// ParseSourceFormat lower-cases tag and checks it against the known source
// formats.
func ParseSourceFormat(tag string) (SourceFormat, error) {
	f := SourceFormat(strings.ToLower(strings.TrimSpace(tag)))
	if !sourceFormats[f] {
		return "", models.NewConversionError("Unsupported source format: %s", tag)
	}
	return f, nil
}

func ParseTargetFormat(tag string) (TargetFormat, error) {
	f := TargetFormat(strings.ToLower(strings.TrimSpace(tag)))
	if _, ok := targetExtensions[f]; !ok {
		return "", models.NewConversionError("Unsupported target format: %s", tag)
	}
	return f, nil
}

// Pair is an ordered (source, target) conversion.
type Pair struct {
	Source SourceFormat
	Target TargetFormat
}

func (p Pair) String() string {
	return fmt.Sprintf("%s to %s", p.Source, p.Target)
}
