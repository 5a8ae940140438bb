package filetree

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Common MIME types
const (
	MIMETypeOctetStream     = "application/octet-stream"
	MIMETypeTextPlain       = "text/plain"
	MIMETypeTextHTML        = "text/html"
	MIMETypeTextCSS         = "text/css"
	MIMETypeTextJavaScript  = "text/javascript"
	MIMETypeApplicationJSON = "application/json"
	MIMETypeApplicationXML  = "application/xml"
	MIMETypeImageJPEG       = "image/jpeg"
	MIMETypeImagePNG        = "image/png"
	MIMETypeImageGIF        = "image/gif"
	MIMETypeImageSVG        = "image/svg+xml"
	MIMETypeImageWebP       = "image/webp"
	MIMETypeAudioMP3        = "audio/mpeg"
	MIMETypeAudioOGG        = "audio/ogg"
	MIMETypeVideoMP4        = "video/mp4"
	MIMETypeVideoWebM       = "video/webm"
	MIMETypeApplicationPDF  = "application/pdf"
	MIMETypeApplicationZip  = "application/zip"
)

// Common file extensions to MIME types mapping
var extensionToMIME = map[string]string{
	".txt":  MIMETypeTextPlain,
	".html": MIMETypeTextHTML,
	".htm":  MIMETypeTextHTML,
	".css":  MIMETypeTextCSS,
	".js":   MIMETypeTextJavaScript,
	".json": MIMETypeApplicationJSON,
	".xml":  MIMETypeApplicationXML,
	".jpg":  MIMETypeImageJPEG,
	".jpeg": MIMETypeImageJPEG,
	".png":  MIMETypeImagePNG,
	".gif":  MIMETypeImageGIF,
	".svg":  MIMETypeImageSVG,
	".webp": MIMETypeImageWebP,
	".mp3":  MIMETypeAudioMP3,
	".ogg":  MIMETypeAudioOGG,
	".mp4":  MIMETypeVideoMP4,
	".webm": MIMETypeVideoWebM,
	".pdf":  MIMETypeApplicationPDF,
	".zip":  MIMETypeApplicationZip,
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".go":   "text/x-go",
}

// GuessMimeType determines a MIME type from a file name and, failing that,
// from its content.
func GuessMimeType(name string, data []byte) string {
	ext := strings.ToLower(path.Ext(name))
	if contentType, ok := extensionToMIME[ext]; ok {
		return contentType
	}

	if ext != "" {
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}
	}

	if len(data) > 0 {
		return http.DetectContentType(data)
	}

	return MIMETypeOctetStream
}

// IsTextFile returns true if the file is a text file based on its MIME type
func IsTextFile(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		contentType == MIMETypeApplicationJSON ||
		contentType == MIMETypeApplicationXML ||
		contentType == "application/javascript"
}

// IsCompressedFile returns true if the file is a compressed file based on its MIME type
func IsCompressedFile(contentType string) bool {
	return contentType == MIMETypeApplicationZip ||
		contentType == "application/gzip" ||
		contentType == "application/x-tar" ||
		contentType == "application/x-7z-compressed"
}

// Icon names used by IconFor.
const (
	IconFolder  = "folder"
	IconText    = "text"
	IconImage   = "image"
	IconAudio   = "audio"
	IconVideo   = "video"
	IconPDF     = "pdf"
	IconArchive = "archive"
	IconFile    = "file"
)

// IconFor picks a presentational icon name for a node.
func IconFor(mimeType string, dir bool) string {
	if dir {
		return IconFolder
	}
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return IconImage
	case strings.HasPrefix(mimeType, "audio/"):
		return IconAudio
	case strings.HasPrefix(mimeType, "video/"):
		return IconVideo
	case mimeType == MIMETypeApplicationPDF:
		return IconPDF
	case IsCompressedFile(mimeType):
		return IconArchive
	case IsTextFile(mimeType):
		return IconText
	default:
		return IconFile
	}
}
