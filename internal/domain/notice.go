package domain

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient, user-visible message.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// User-facing notice texts.
const (
	MsgRequiredFields = "Title and content are required"
	MsgUploadFailed   = "Image upload failed. Try using a link instead."
	MsgPublished      = "Blog post published!"
	MsgUpdated        = "Blog post updated!"
	MsgUpdateFailed   = "Failed to update post"
	MsgNoPermission   = "You don't have permission to edit this post"
	MsgPostNotFound   = "Post not found"
	MsgLoadFailed     = "Failed to load post"
	MsgSignedOut      = "You need to sign in first"
)

func errorNotice(msg string) Notice {
	return Notice{Kind: NoticeError, Message: msg}
}

func successNotice(msg string) Notice {
	return Notice{Kind: NoticeSuccess, Message: msg}
}
