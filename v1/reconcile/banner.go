package reconcile

// BannerKind tells the UI which notice to show above the edit form.
type BannerKind int

const (
	BannerNone BannerKind = iota
	// BannerRemoteUpdate: someone changed the entry being edited.
	BannerRemoteUpdate
	// BannerRemoteDelete: someone deleted the entry being edited.
	BannerRemoteDelete
	// BannerConflict: the save was rejected, reload before retrying.
	BannerConflict
	// BannerNotAuthorized: the lease check failed, the save was not sent.
	BannerNotAuthorized
)

func (k BannerKind) String() string {
	switch k {
	case BannerRemoteUpdate:
		return "remote-update"
	case BannerRemoteDelete:
		return "remote-delete"
	case BannerConflict:
		return "conflict"
	case BannerNotAuthorized:
		return "not-authorized"
	default:
		return "none"
	}
}

// Banner is a notice with its text.
type Banner struct {
	Kind    BannerKind
	Message string
}

const (
	MsgRemoteUpdate  = "This schedule was changed by another user. Reload to see the latest version."
	MsgRemoteDelete  = "This schedule was deleted by another user."
	MsgConflict      = "This schedule was modified by someone else. Reload and try again."
	MsgNotAuthorized = "You no longer hold the edit lock. Your changes were not saved."
)
