package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"invoicebridge/internal/common"
)

// DecodeContent turns an inline document reference into raw bytes. Accepted
// forms, in order of detection: a data URL, an OpenAI file id ("file-..."),
// plain base64. Chat frontends hand over attachments in all three shapes.
func (e *Extractor) DecodeContent(ctx context.Context, content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, common.NewAppError("EMPTY_CONTENT", "document content is empty", common.ErrInvalidInput)
	}

	if rest, ok := strings.CutPrefix(content, "data:"); ok {
		_, b64, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, common.NewAppError("BAD_DATA_URL", "data URL is not base64-encoded", common.ErrInvalidInput)
		}
		content = b64
	} else if strings.HasPrefix(content, "file-") && !looksLikeBase64(content) {
		if e == nil {
			return nil, common.NewAppError("NO_FILE_API",
				"file references require a configured model API key", common.ErrInvalidInput)
		}
		return e.fetchFile(ctx, content)
	}

	data, err := DecodeBase64(content)
	if err != nil {
		return nil, common.NewAppError("BAD_ENCODING", "document content is not valid base64", common.ErrInvalidInput)
	}
	return data, nil
}

func (e *Extractor) fetchFile(ctx context.Context, fileID string) ([]byte, error) {
	rc, err := e.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetch file %s: %w", fileID, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	return data, nil
}

// DecodeBase64 is a forgiving decoder: it strips whitespace and accepts
// both standard and URL-safe alphabets, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("not valid base64")
}

// looksLikeBase64 guards against a document whose base64 happens to start
// with "file-": real file ids are short and never decode cleanly.
func looksLikeBase64(s string) bool {
	if len(s) < 256 {
		return false
	}
	_, err := DecodeBase64(s)
	return err == nil
}
