package notify

import "github.com/chpc-uofu/arbiter2d/pkg/model"

// RecordingSender is a test double for Sender.
type RecordingSender struct {
	Sent []SentMessage
	Err  error
}

type SentMessage struct {
	To, Subject, Body string
}

func (r *RecordingSender) Send(to, subject, body string) error {
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, SentMessage{To: to, Subject: subject, Body: body})
	return nil
}

// FakeIntegrations is a test double for Integrations.
type FakeIntegrations struct {
	Emails map[int]string
}

func NewFakeIntegrations() *FakeIntegrations {
	return &FakeIntegrations{Emails: make(map[int]string)}
}

func (f *FakeIntegrations) EmailAddressOf(uid int) (string, error) {
	return f.Emails[uid], nil
}

func (f *FakeIntegrations) WarningSubject(us model.UserSlice, kind Kind) string {
	switch kind {
	case Release:
		return "arbiter2: quota restored"
	case HighUsage:
		return "arbiter2: high usage observed"
	default:
		return "arbiter2: usage quota exceeded"
	}
}

func (f *FakeIntegrations) WarningBody(us model.UserSlice, peers []string, kind Kind) string {
	return "see your usage report"
}
