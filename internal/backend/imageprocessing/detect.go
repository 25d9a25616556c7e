package imageprocessing

import (
	"bytes"
	"net/http"
)

const (
	MimeSVG  = "image/svg+xml"
	MimeTIFF = "image/tiff"
)

var (
	tiffLittleEndian = []byte{'I', 'I', 0x2A, 0x00}
	tiffBigEndian    = []byte{'M', 'M', 0x00, 0x2A}
)

// DetectContentType sniffs the image type of data. It extends
// http.DetectContentType with the SVG and TIFF formats PngConverterCommand
// can decode.
func DetectContentType(data []byte) string {
	if bytes.HasPrefix(data, tiffLittleEndian) || bytes.HasPrefix(data, tiffBigEndian) {
		return MimeTIFF
	}
	contentType := http.DetectContentType(data)
	if (contentType == "text/plain; charset=utf-8" || contentType == "text/xml; charset=utf-8") && isSVGData(data) {
		return MimeSVG
	}
	return contentType
}
