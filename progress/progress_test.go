package progress

import (
	"testing"
	"time"

	"github.com/iland112/icao-local-pkd/core"
)

func TestSubscribeReceivesCurrentSnapshotImmediately(t *testing.T) {
	m := NewManager()
	m.Start(1, 10)
	ch, cancel := m.Subscribe(1)
	defer cancel()

	select {
	case snap := <-ch:
		if snap.Total != 10 {
			t.Errorf("expected total 10, got %d", snap.Total)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate snapshot on subscribe")
	}
}

func TestBackpressureDropsToNewestSnapshot(t *testing.T) {
	m := NewManager()
	m.Start(2, 100)
	ch, cancel := m.Subscribe(2)
	defer cancel()
	<-ch // drain the initial snapshot

	for i := 0; i < 5; i++ {
		m.Advance(2, 1)
	}

	select {
	case snap := <-ch:
		if snap.Current != 5 {
			t.Errorf("expected the latest snapshot (current=5), got %d", snap.Current)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a pending snapshot")
	}

	select {
	case <-ch:
		t.Fatal("expected only one pending snapshot, channel should be empty now")
	default:
	}
}

func TestRecordOutcomeAccumulatesStats(t *testing.T) {
	m := NewManager()
	m.Start(3, 2)
	m.RecordOutcome(3, LogRow{Fingerprint: "aa", CertType: core.CertTypeDSC, Outcome: core.ValidationValid}, "SHA256-RSA", 2048, core.ComplianceConformant)
	m.RecordOutcome(3, LogRow{Fingerprint: "bb", CertType: core.CertTypeDSC, Outcome: core.ValidationInvalid}, "SHA256-RSA", 2048, core.ComplianceWarning)

	snap := m.Get(3)
	if snap.Stats.ByOutcome[core.ValidationValid] != 1 || snap.Stats.ByOutcome[core.ValidationInvalid] != 1 {
		t.Errorf("unexpected outcome counts: %+v", snap.Stats.ByOutcome)
	}
	if snap.Stats.BySignatureAlgo["SHA256-RSA"] != 2 {
		t.Errorf("unexpected signature algo histogram: %+v", snap.Stats.BySignatureAlgo)
	}
	if snap.Stats.ByKeyBits[2048] != 2 {
		t.Errorf("unexpected key bits histogram: %+v", snap.Stats.ByKeyBits)
	}
	if len(snap.Recent) != 2 {
		t.Errorf("expected 2 recent rows, got %d", len(snap.Recent))
	}
}

func TestForgetRemovesUploadState(t *testing.T) {
	m := NewManager()
	m.Start(4, 1)
	m.Forget(4)
	snap := m.Get(4)
	if snap.Stage != StageUploaded {
		t.Errorf("Get after Forget should recreate fresh state, got stage %s", snap.Stage)
	}
	if snap.Total != 0 {
		t.Errorf("fresh state after Forget should not carry over old Total, got %d", snap.Total)
	}
}
