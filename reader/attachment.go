package reader

import (
	"bytes"
	"crypto/md5"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
)

// Attachments returns the file's AT blocks in on-disk order (v4 only; v3
// files have none).
func (r *Reader) Attachments() []*blocks.Attachment {
	hd := r.file.Header()
	if hd == nil {
		return nil
	}

	return hd.Attachments
}

// ReadAttachmentData returns at's original payload: the embedded bytes
// (inflated first when the attachment is stored deflated), or the external
// file's contents when nothing is embedded. When the attachment carries a
// valid MD5, the payload is verified against it and a mismatch fails with
// ErrBadChecksum — the flag asserts integrity of the *original* data, so
// verification always runs after inflation.
func (r *Reader) ReadAttachmentData(at *blocks.Attachment) ([]byte, error) {
	if at == nil {
		return nil, errs.ErrInvalidLink
	}

	var data []byte
	switch {
	case at.Embedded && at.Compressed:
		zr, err := zlib.NewReader(bytes.NewReader(at.EmbeddedData))
		if err != nil {
			return nil, &errs.FormatError{Offset: at.Hdr().Offset, Tag: "AT", Err: errs.ErrBadCompression}
		}
		defer zr.Close()

		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, &errs.FormatError{Offset: at.Hdr().Offset, Tag: "AT", Err: errs.ErrBadCompression}
		}
		if at.OriginalSize != 0 && uint64(len(data)) != at.OriginalSize {
			return nil, &errs.FormatError{Offset: at.Hdr().Offset, Tag: "AT", Err: errs.ErrLengthMismatch}
		}
	case at.Embedded:
		data = append([]byte(nil), at.EmbeddedData...)
	default:
		ext, err := os.ReadFile(at.FileName)
		if err != nil {
			return nil, err
		}
		data = ext
	}

	if at.MD5Valid {
		if sum := md5.Sum(data); sum != at.MD5 {
			return nil, &errs.FormatError{Offset: at.Hdr().Offset, Tag: "AT", Err: errs.ErrBadChecksum}
		}
	}

	return data, nil
}
