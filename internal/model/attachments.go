package model

// AttachmentState 区分"未尝试""已尝试但为空""已找到"三种采集状态。
type AttachmentState string

const (
	AttachmentsNotAttempted  AttachmentState = "not_attempted"
	AttachmentsEmpty         AttachmentState = "attempted_empty"
	AttachmentsFound         AttachmentState = "attempted_found"
	PendingCollectionReason                  = "Pending detailed collection"
)

// 文件类型代码。
const (
	FileTypeAnnouncement   = "A"
	FileTypeApplication    = "B"
	FileTypeJobDescription = "C"
	FileTypeOther          = "Z"
)

// FileRef 指向详情页中的一个附件。
type FileRef struct {
	FileID string `json:"fileID"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// Attachments 是嵌入在 Job 中的附件记录。
type Attachments struct {
	Announcement      *FileRef        `json:"announcement"`
	Application       *FileRef        `json:"application"`
	JobDescription    *FileRef        `json:"job_description"`
	Others            []FileRef       `json:"others"`
	UnavailableReason string          `json:"unavailable_reason,omitempty"`
	State             AttachmentState `json:"state,omitempty"`
}

// HasFiles 报告是否至少有一个附件。
func (a *Attachments) HasFiles() bool {
	if a == nil {
		return false
	}
	return a.Announcement != nil || a.Application != nil || a.JobDescription != nil || len(a.Others) > 0
}

// NeedsCollection 为 true 时表示附件信息不完整，下次采集需要重试。
func (a *Attachments) NeedsCollection() bool {
	if a == nil {
		return true
	}
	if a.UnavailableReason == PendingCollectionReason {
		return true
	}
	switch a.State {
	case AttachmentsEmpty, AttachmentsFound:
		return false
	case AttachmentsNotAttempted:
		return true
	}
	// 旧数据没有 state 字段，只能按内容推断。
	return !a.HasFiles() && a.UnavailableReason == ""
}
