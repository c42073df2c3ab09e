package mtproto

import (
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"my-feed-bot/internal/domain"
)

var knownExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

func convertMessage(m *tg.Message) domain.SourceMessage {
	out := domain.SourceMessage{
		ID:      int64(m.ID),
		Text:    m.Message,
		Date:    time.Unix(int64(m.Date), 0).UTC(),
		GroupID: m.GroupedID,
	}
	if media, ok := convertMedia(m.Media); ok {
		out.Media = &media
	}
	return out
}

func convertMedia(raw tg.MessageMediaClass) (domain.SourceMedia, bool) {
	switch media := raw.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return domain.SourceMedia{}, false
		}
		size := largestPhotoSize(photo.Sizes)
		if size == "" {
			return domain.SourceMedia{}, false
		}
		return domain.SourceMedia{
			Photo: true,
			Ext:   ".jpg",
			Ref: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     size,
			},
		}, true
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return domain.SourceMedia{}, false
		}
		out := domain.SourceMedia{
			Document: true,
			Ext:      documentExt(doc),
			Ref: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				out.Video = true
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					out.Voice = true
				}
			}
		}
		return out, true
	}
	return domain.SourceMedia{}, false
}

// largestPhotoSize возвращает тип последнего (самого большого) скачиваемого размера.
func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	var size string
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			size = v.Type
		case *tg.PhotoSizeProgressive:
			size = v.Type
		}
	}
	return size
}

func documentExt(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if f, ok := attr.(*tg.DocumentAttributeFilename); ok {
			if ext := strings.ToLower(filepath.Ext(f.FileName)); ext != "" {
				return ext
			}
		}
	}
	if ext, ok := knownExt[doc.MimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(doc.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
