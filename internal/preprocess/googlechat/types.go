package googlechat

// groupInfo is Google Chat/Groups/{id}/group_info.json. Name is empty for
// a plain DM and for a Space that was never given a custom title.
type groupInfo struct {
	Name    string   `json:"name"`
	Members []member `json:"members"`
}

type member struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// userInfo is Google Chat/Users/{id}/user_info.json, used only to
// identify the export owner's email.
type userInfo struct {
	User member `json:"user"`
}

type messagesFile struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Creator       member         `json:"creator"`
	CreatedDate   string         `json:"created_date"`
	Text          string         `json:"text,omitempty"`
	AttachedFiles []attachedFile `json:"attached_files,omitempty"`
}

type attachedFile struct {
	ExportName string `json:"export_name"`
}

// conversationRecord is one emitted entry in metadata.json's
// conversations array.
type conversationRecord struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Messages       []messageRecord `json:"messages"`
}

type messageRecord struct {
	Sender      string   `json:"sender"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Text        string   `json:"text,omitempty"`
	MediaFiles  []string `json:"media_files,omitempty"`
}
