package assistant

// BlockKind is the closed set of content variants a turn can carry to the
// provider. Text and image references travel inside the thread message
// content; document references travel as file_search attachments.
type BlockKind uint8

const (
	BlockText BlockKind = iota
	BlockImage
	BlockDocument
)

type ContentBlock struct {
	Kind   BlockKind
	Text   string // set for BlockText
	FileID string // set for BlockImage and BlockDocument
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

func ImageBlock(fileID string) ContentBlock {
	return ContentBlock{Kind: BlockImage, FileID: fileID}
}

func DocumentBlock(fileID string) ContentBlock {
	return ContentBlock{Kind: BlockDocument, FileID: fileID}
}

// MessageInput is one outbound user message for a thread.
type MessageInput struct {
	Blocks []ContentBlock
}
