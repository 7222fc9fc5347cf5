package content

import "fmt"

// InputMessage is one turn of a client-facing Input. Content is a polymorphic
// block sequence rather than a free-form JSON value, per the role/block
// invariants below.
type InputMessage struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Input is the client-facing request body: an optional leading system value
// plus an ordered message sequence.
type Input struct {
	System   string         `json:"system,omitempty"`
	Messages []InputMessage `json:"messages"`
}

// Validate enforces the role/block invariants from the content model:
// tool_result only in user messages, tool_call only in assistant messages,
// and role must be user or assistant.
func (in Input) Validate() error {
	for i, m := range in.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		for _, b := range m.Content {
			if b.Type == BlockToolResult && m.Role != RoleUser {
				return fmt.Errorf("message %d: tool_result block only allowed in user messages", i)
			}
			if b.Type == BlockToolCall && m.Role != RoleAssistant {
				return fmt.Errorf("message %d: tool_call block only allowed in assistant messages", i)
			}
		}
	}
	return nil
}

// Image is a resolved image: either inline data or a storage-backed
// reference, never both a pending URL and unresolved state.
type Image struct {
	Kind        string `json:"kind"` // "base64" | "url"
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
}

// ImageResolver fetches/inlines an image_ref block's referent. The
// out-of-scope object store is the implementation behind this interface; the
// core only depends on the boundary.
type ImageResolver interface {
	Resolve(kind, dataOrURL string) (Image, error)
}

// ResolvedInput is Input after every image_ref has been resolved to a typed
// Image. ResolvedMessage mirrors InputMessage; the resolution result is
// written into each image_ref block itself, since Block stays one shared
// struct across layers.
type ResolvedInput struct {
	System   string            `json:"system,omitempty"`
	Messages []ResolvedMessage `json:"messages"`
}

// ResolvedMessage is an InputMessage whose image_ref blocks have been
// resolved in place: each image_ref block keeps its ImageKind, and its
// ImageData, ImageURL and StoragePath are set from the resolved Image.
type ResolvedMessage struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Resolve walks Input and resolves every image_ref block via r, producing a
// ResolvedInput. Non-image blocks pass through unchanged.
func Resolve(in Input, r ImageResolver) (ResolvedInput, error) {
	out := ResolvedInput{System: in.System, Messages: make([]ResolvedMessage, len(in.Messages))}
	for i, m := range in.Messages {
		rm := ResolvedMessage{Role: m.Role, Content: make([]Block, len(m.Content))}
		for j, b := range m.Content {
			if b.Type != BlockImageRef {
				rm.Content[j] = b
				continue
			}
			src := b.ImageURL
			if b.ImageKind != "url" {
				src = b.ImageData
			}
			img, err := r.Resolve(b.ImageKind, src)
			if err != nil {
				return ResolvedInput{}, fmt.Errorf("resolving image_ref in message %d block %d: %w", i, j, err)
			}
			resolved := b
			resolved.ImageData = img.Data
			resolved.ImageURL = img.URL
			resolved.StoragePath = img.StoragePath
			rm.Content[j] = resolved
		}
		out.Messages[i] = rm
	}
	return out, nil
}
