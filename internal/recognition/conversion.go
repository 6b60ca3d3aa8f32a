package recognition

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// DefaultPDFDPI is the resolution PDF pages are rendered at before OCR.
const DefaultPDFDPI = 300

// page is one raster image ready for OCR, PNG encoded.
type page struct {
	index int
	png   []byte
}

// isPDF decides by extension first and falls back to the %PDF magic.
func isPDF(data []byte, filename string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// rasterize turns a document into the PNG pages to recognize, in page order.
func rasterize(data []byte, filename string, dpi float64) ([]page, error) {
	if isPDF(data, filename) {
		return pdfToPages(data, dpi)
	}
	png, err := imageToPNG(data)
	if err != nil {
		return nil, err
	}
	return []page{{index: 0, png: png}}, nil
}

// pdfToPages renders every page of a PDF to PNG
func pdfToPages(pdfData []byte, dpi float64) ([]page, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if dpi <= 0 {
		dpi = DefaultPDFDPI
	}

	pages := make([]page, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PDF page %d: %w", i+1, err)
		}
		pages = append(pages, page{index: i, png: buf.Bytes()})
	}
	return pages, nil
}

// imageToPNG converts any supported image to PNG. Already-PNG data is passed
// through untouched.
func imageToPNG(imageData []byte) ([]byte, error) {
	if isPNGFormat(imageData) {
		return imageData, nil
	}

	var img image.Image
	var err error

	// Phones sometimes save HEIC data under a .jpg name
	if isHEICFormat(imageData) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func isPNGFormat(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with a HEIC-family brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}
