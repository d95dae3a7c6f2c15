package imessage

import "time"

// parsedFilename is the result of matching one iMazing export filename
// against filenamePattern: "YYYY-MM-DD HH MM SS - {conversation} -
// {original filename}".
type parsedFilename struct {
	Timestamp        time.Time
	TimestampStr     string
	Conversation     string
	OriginalFilename string
}

// scannedFile is one file under the export root that matched the
// naming convention and a known media extension.
type scannedFile struct {
	Path      string
	Parsed    parsedFilename
	MediaType string
}

// hashedFile adds the content hash computed during the parallel hash
// pass; grouping by Hash happens after every file has one.
type hashedFile struct {
	scannedFile
	Hash string
}

// csvKey mirrors the (message_date, attachment) composite key the
// iMazing CSV export uses to associate a text message with its
// attachment filename.
type csvKey struct {
	MessageDate string
	Attachment  string
}

// csvInfo is one iMazing "Messages - *.csv" row, keyed by csvKey. It is
// also the shape populated by the optional companion SQLite cache.
type csvInfo struct {
	ChatSession    string
	Service        string
	Type           string
	SenderID       string
	SenderName     string
	Status         string
	Text           string
	AttachmentType string
}

// conversationRecord is one emitted entry in metadata.json's
// conversations array, keyed by conversation name (iMazing has no
// separate numeric conversation ID).
type conversationRecord struct {
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	MessageCount   int    `json:"message_count"`
	Messages       []any  `json:"messages"`
}

// messageRecord is emitted for a media file with exactly one export
// instance.
type messageRecord struct {
	SourceExport      string `json:"source_export"`
	ConversationID    string `json:"conversation_id"`
	ConversationType  string `json:"conversation_type"`
	ConversationTitle string `json:"conversation_title"`
	Sender            string `json:"sender"`
	Created           string `json:"created"`
	Content           string `json:"content,omitempty"`
	IsSender          bool   `json:"is_sender"`
	MediaFile         string `json:"media_file"`
	MediaType         string `json:"media_type"`
}

// mergedSubMessage is one of the original export instances folded into
// a mergedMessageRecord because they shared identical file content.
type mergedSubMessage struct {
	SourceExport      string `json:"source_export"`
	ConversationID    string `json:"conversation_id"`
	ConversationType  string `json:"conversation_type"`
	ConversationTitle string `json:"conversation_title"`
	Sender            string `json:"sender"`
	Created           string `json:"created"`
	Content           string `json:"content,omitempty"`
	IsSender          bool   `json:"is_sender"`
}

// mergedMessageRecord is emitted in place of messageRecord when two or
// more exported files hashed identically: one physical copy is kept
// (the chronologically earliest instance), and every instance's own
// conversation context is preserved in Messages.
type mergedMessageRecord struct {
	MediaFile      string             `json:"media_file"`
	PrimaryCreated string             `json:"primary_created"`
	IsDuplicate    bool               `json:"is_duplicate"`
	Messages       []mergedSubMessage `json:"messages"`
	MediaType      string             `json:"media_type"`
}
