package model

import "testing"

func TestNeedsAttachmentUpdate(t *testing.T) {
	t.Parallel()

	ref := &FileRef{FileID: "1", Name: "f.pdf", Type: FileTypeAnnouncement}

	cases := []struct {
		name string
		job  Job
		want bool
	}{
		{name: "nil attachments", job: Job{IDX: "1"}, want: true},
		{name: "not attempted", job: Job{Attachments: &Attachments{State: AttachmentsNotAttempted}}, want: true},
		{name: "pending sentinel", job: Job{Attachments: &Attachments{State: AttachmentsEmpty, UnavailableReason: PendingCollectionReason}}, want: true},
		{name: "attempted empty", job: Job{Attachments: &Attachments{State: AttachmentsEmpty}}, want: false},
		{name: "all slots populated", job: Job{Attachments: &Attachments{
			Announcement:   ref,
			Application:    ref,
			JobDescription: ref,
			Others:         []FileRef{*ref},
		}}, want: false},
		{name: "legacy empty record", job: Job{Attachments: &Attachments{}}, want: true},
		{name: "legacy with reason", job: Job{Attachments: &Attachments{UnavailableReason: "해당 없음"}}, want: false},
	}

	for _, tc := range cases {
		if got := tc.job.NeedsAttachmentUpdate(); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
