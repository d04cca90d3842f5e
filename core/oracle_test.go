package core

import (
	"crypto/ed25519"
	"testing"
	"time"
)

type oracleFixture struct {
	e         *Engine
	owner     ParticipantID
	operator  Principal
	pub       ed25519.PublicKey
	priv      ed25519.PrivateKey
	validator ValidatorKey
}

func newOracleFixture(t *testing.T) oracleFixture {
	t.Helper()
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	owner := registerParticipant(t, e, KindProsumer)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var vkey ValidatorKey
	copy(vkey[:], pub)

	admin := adminCaller(ParticipantID{0xaa})
	e.WithTx(func(tx Tx) error {
		if err := e.Registry.AddValidator(tx, admin, vkey, "campus-authority", time.Now()); err != nil {
			return err
		}
		if err := e.Registry.AssignMeter(tx, admin, "meter-1", owner, MeterSolar, 10, time.Now()); err != nil {
			return err
		}
		e.Ledger.setBalance(tx, owner, 1)
		return nil
	})

	return oracleFixture{
		e: e, owner: owner, pub: pub, priv: priv, validator: vkey,
		operator: Principal{ID: ParticipantID{0xe0}, Kind: KindOperator},
	}
}

func (f oracleFixture) sign(meterID MeterID, readingTS time.Time, generated, consumed uint64, source string) []byte {
	msg := CanonicalReadingBytes(meterID, readingTS, generated, consumed, source)
	return ed25519.Sign(f.priv, msg)
}

func TestRequestEnergyDataRequiresOwnerOrAdmin(t *testing.T) {
	f := newOracleFixture(t)
	other := registerParticipant(t, f.e, KindConsumer)
	err := f.e.WithTx(func(tx Tx) error {
		f.e.Ledger.setBalance(tx, other, 1)
		caller := Principal{ID: other, Kind: KindConsumer}
		_, err := f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", time.Now())
		return err
	})
	if err == nil {
		t.Fatal("expected ErrNotAuthorised for a non-owner, non-admin caller")
	}
}

func TestFulfillEnergyDataMintsNetSurplus(t *testing.T) {
	f := newOracleFixture(t)
	now := time.Now()
	var reqID RequestID
	f.e.WithTx(func(tx Tx) error {
		caller := Principal{ID: f.owner, Kind: KindProsumer}
		var err error
		reqID, err = f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", now)
		return err
	})

	readingTS := now.Add(time.Second)
	sig := f.sign("meter-1", readingTS, 50, 20, "solar")
	reading := MeterReading{MeterID: "meter-1", Generated: 50, Consumed: 20, ReadingTS: readingTS, Validator: f.validator, ValidatorSig: sig, Source: "solar"}

	err := f.e.WithTx(func(tx Tx) error {
		return f.e.Oracle.FulfillEnergyData(tx, f.operator, reqID, reading, now.Add(2*time.Second))
	})
	if err != nil {
		t.Fatalf("fulfil: %v", err)
	}

	f.e.WithTx(func(tx Tx) error {
		if got := f.e.Ledger.BalanceOf(tx, f.owner); got != 1+30 {
			t.Fatalf("owner balance = %d, want %d (1 starting + 30 net surplus)", got, 31)
		}
		req, _ := f.e.Oracle.GetRequest(tx, reqID)
		if req.Status != RequestFulfilled {
			t.Fatalf("request status = %v, want Fulfilled", req.Status)
		}
		recs := f.e.Ledger.ListRECsByMeter(tx, "meter-1")
		if len(recs) != 1 || recs[0].EnergyAmount != 30 {
			t.Fatalf("expected a single 30-unit rec, got %+v", recs)
		}
		return nil
	})
}

func TestFulfillEnergyDataRejectsInvalidSignature(t *testing.T) {
	f := newOracleFixture(t)
	now := time.Now()
	var reqID RequestID
	f.e.WithTx(func(tx Tx) error {
		caller := Principal{ID: f.owner, Kind: KindProsumer}
		var err error
		reqID, err = f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", now)
		return err
	})

	readingTS := now.Add(time.Second)
	reading := MeterReading{MeterID: "meter-1", Generated: 50, Consumed: 20, ReadingTS: readingTS, Validator: f.validator, ValidatorSig: make([]byte, ed25519.SignatureSize), Source: "solar"}

	err := f.e.WithTx(func(tx Tx) error {
		return f.e.Oracle.FulfillEnergyData(tx, f.operator, reqID, reading, now.Add(2*time.Second))
	})
	if err == nil {
		t.Fatal("expected ErrNotVerified for a bad signature")
	}

	f.e.WithTx(func(tx Tx) error {
		if !f.e.Registry.IsActiveValidator(tx, f.validator) {
			t.Fatal("one bad signature below threshold should not suspend the validator (threshold 0 disables it by default)")
		}
		return nil
	})
}

func TestFulfillEnergyDataDeduplicatesByReadingID(t *testing.T) {
	f := newOracleFixture(t)
	now := time.Now()
	readingTS := now.Add(time.Second)
	sig := f.sign("meter-1", readingTS, 50, 20, "solar")
	reading := MeterReading{MeterID: "meter-1", Generated: 50, Consumed: 20, ReadingTS: readingTS, Validator: f.validator, ValidatorSig: sig, Source: "solar"}

	var req1, req2 RequestID
	f.e.WithTx(func(tx Tx) error {
		caller := Principal{ID: f.owner, Kind: KindProsumer}
		var err error
		req1, err = f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", now)
		return err
	})
	f.e.WithTx(func(tx Tx) error {
		return f.e.Oracle.FulfillEnergyData(tx, f.operator, req1, reading, now.Add(2*time.Second))
	})
	var balAfterFirst uint64
	f.e.WithTx(func(tx Tx) error {
		balAfterFirst = f.e.Ledger.BalanceOf(tx, f.owner)
		return nil
	})

	f.e.WithTx(func(tx Tx) error {
		caller := Principal{ID: f.owner, Kind: KindProsumer}
		var err error
		req2, err = f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", now)
		return err
	})
	if err := f.e.WithTx(func(tx Tx) error {
		return f.e.Oracle.FulfillEnergyData(tx, f.operator, req2, reading, now.Add(3*time.Second))
	}); err != nil {
		t.Fatalf("duplicate fulfil should not error: %v", err)
	}

	f.e.WithTx(func(tx Tx) error {
		if got := f.e.Ledger.BalanceOf(tx, f.owner); got != balAfterFirst {
			t.Fatalf("balance changed on a duplicate reading: before=%d after=%d", balAfterFirst, got)
		}
		req, _ := f.e.Oracle.GetRequest(tx, req2)
		if req.Status != RequestFulfilled {
			t.Fatalf("duplicate request should still resolve to Fulfilled, got %v", req.Status)
		}
		return nil
	})
}

func TestExpirePendingRequests(t *testing.T) {
	f := newOracleFixture(t)
	now := time.Now()
	var reqID RequestID
	f.e.WithTx(func(tx Tx) error {
		caller := Principal{ID: f.owner, Kind: KindProsumer}
		var err error
		reqID, err = f.e.Oracle.RequestEnergyData(tx, caller, "meter-1", now)
		return err
	})

	var n int
	f.e.WithTx(func(tx Tx) error {
		var err error
		n, err = f.e.Oracle.ExpirePendingRequests(tx, now.Add(f.e.Cfg.OracleRequestTimeout+time.Second))
		return err
	})
	if n != 1 {
		t.Fatalf("expected 1 expired request, got %d", n)
	}
	f.e.WithTx(func(tx Tx) error {
		req, _ := f.e.Oracle.GetRequest(tx, reqID)
		if req.Status != RequestExpired {
			t.Fatalf("status = %v, want Expired", req.Status)
		}
		return nil
	})
}
