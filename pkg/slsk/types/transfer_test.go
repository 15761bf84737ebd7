package types

import (
	"testing"
	"time"
)

func Test_TransferInternal_WithLockReturnsSnapshotAfterMutation(t *testing.T) {
	tr := NewTransferInternal(Download, "alice", "song.mp3", 1, 0)
	snap := tr.WithLock(func(ti *TransferInternal) {
		ti.State = TransferInProgress
		ti.BytesTransferred = 512
	})
	if snap.State != TransferInProgress || snap.BytesTransferred != 512 {
		t.Errorf("got %+v", snap)
	}
}

func Test_PercentComplete_ZeroSizeNeverDivides(t *testing.T) {
	s := TransferSnapshot{Size: 0, BytesTransferred: 0}
	if got := s.PercentComplete(); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func Test_PercentComplete_ClampsAtOneHundred(t *testing.T) {
	s := TransferSnapshot{Size: 10, BytesTransferred: 15}
	if got := s.PercentComplete(); got != 100 {
		t.Errorf("got %v, want 100", got)
	}
}

func Test_PercentComplete_Midpoint(t *testing.T) {
	s := TransferSnapshot{Size: 200, BytesTransferred: 50}
	if got := s.PercentComplete(); got != 25 {
		t.Errorf("got %v, want 25", got)
	}
}

func Test_AverageSpeed_ZeroBeforeStartTimeIsSet(t *testing.T) {
	s := TransferSnapshot{BytesTransferred: 1000}
	if got := s.AverageSpeed(); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func Test_AverageSpeed_UsesEndTimeOnceCompleted(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	end := start.Add(5 * time.Second)
	s := TransferSnapshot{StartTime: start, EndTime: end, BytesTransferred: 500}
	if got := s.AverageSpeed(); got != 100 {
		t.Errorf("got %v, want 100 bytes/sec", got)
	}
}

func Test_RemainingTime_UndefinedWithoutSpeed(t *testing.T) {
	s := TransferSnapshot{}
	if _, ok := s.RemainingTime(); ok {
		t.Error("RemainingTime should be undefined with no elapsed time")
	}
}

func Test_RemainingTime_ClampsToZeroWhenAlreadyPastSize(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	s := TransferSnapshot{StartTime: start, Size: 100, BytesTransferred: 1000}
	remaining, ok := s.RemainingTime()
	if !ok {
		t.Fatal("expected a defined remaining time once speed is nonzero")
	}
	if remaining != 0 {
		t.Errorf("got %v, want 0 once bytes transferred exceeds size", remaining)
	}
}

func Test_TransferDirection_String(t *testing.T) {
	if Download.String() != "download" {
		t.Errorf("got %q", Download.String())
	}
	if Upload.String() != "upload" {
		t.Errorf("got %q", Upload.String())
	}
}

func Test_TerminalState_StringUnknownValue(t *testing.T) {
	if got := TerminalState(999).String(); got != "Unknown" {
		t.Errorf("got %q, want Unknown", got)
	}
}
