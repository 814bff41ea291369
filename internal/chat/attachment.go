package chat

// Attachment is an opaque byte blob produced by the upload collaborator.
// The core only validates it before any network call is made.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// DefaultMaxAttachmentBytes caps attachments when no limit is configured.
const DefaultMaxAttachmentBytes = 5 << 20

var allowedAttachmentMIME = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// ValidateAttachment rejects oversized or wrongly-typed attachments before
// any network call, so no partial state is ever created for them.
func ValidateAttachment(att *Attachment, maxBytes int) error {
	if att == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	if len(att.Data) > maxBytes {
		return ErrAttachmentTooBig
	}
	if _, ok := allowedAttachmentMIME[att.MIME]; !ok {
		return ErrAttachmentKind
	}
	return nil
}
