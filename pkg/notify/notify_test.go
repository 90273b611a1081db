package notify

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestNotifySendsFormattedMessage(t *testing.T) {
	integ := NewFakeIntegrations()
	integ.Emails[42] = "user@example.edu"
	sender := &RecordingSender{}
	n := New(integ, sender, slog.Default())

	err := n.Notify(Violation, model.UserSlice{UID: 42}, []string{"nodeB"})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Equal(t, "user@example.edu", sender.Sent[0].To)
	require.Contains(t, sender.Sent[0].Subject, "exceeded")
}

func TestNotifySkipsSendWhenNoEmailResolved(t *testing.T) {
	integ := NewFakeIntegrations()
	sender := &RecordingSender{}
	n := New(integ, sender, slog.Default())

	err := n.Notify(Violation, model.UserSlice{UID: 7}, nil)
	require.NoError(t, err)
	require.Empty(t, sender.Sent)
}

func TestNotifySendsHighUsageSubject(t *testing.T) {
	integ := NewFakeIntegrations()
	integ.Emails[9] = "user@example.edu"
	sender := &RecordingSender{}
	n := New(integ, sender, slog.Default())

	err := n.Notify(HighUsage, model.UserSlice{UID: 9}, nil)
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Contains(t, sender.Sent[0].Subject, "high usage")
}

func TestNotifyPropagatesSendError(t *testing.T) {
	integ := NewFakeIntegrations()
	integ.Emails[1] = "a@b.edu"
	sender := &RecordingSender{Err: errors.New("smtp unavailable")}
	n := New(integ, sender, slog.Default())

	err := n.Notify(Release, model.UserSlice{UID: 1}, nil)
	require.Error(t, err)
}
