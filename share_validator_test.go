package main

import "testing"

func newValidatorTestJob(jobID string, curTime int64) *Job {
	const bits = "207fffff" // regtest max target, permissive enough for fixture tests
	var bitsBytes [4]byte
	if err := decodeHex8To4(&bitsBytes, bits); err != nil {
		panic(err)
	}
	target, err := targetFromBits(bits)
	if err != nil {
		panic(err)
	}

	return &Job{
		JobID: jobID,
		Template: GetBlockTemplateResult{
			Height:        100,
			CurTime:       curTime,
			Bits:          bits,
			Version:       1,
			CoinbaseValue: 5000000000,
		},
		Target:                  target,
		bitsBytes:               bitsBytes,
		Extranonce2Size:         4,
		TemplateExtraNonce2Size: 4,
		CoinbaseValue:           5000000000,
		CoinbaseMsg:             "test",
		PayoutScript:            []byte{0x51}, // OP_TRUE
	}
}

func newValidatorTestJobManager(job *Job) *JobManager {
	jm := &JobManager{cfg: Config{MaxRecentJobs: 20}}
	jm.curJob = job
	jm.jobHistory = []*Job{job}
	return jm
}

func baseSubmission(jobID string) ShareSubmission {
	return ShareSubmission{
		Worker:         "tb1qworkeraddress.rig1",
		JobID:          jobID,
		Extranonce2Hex: "01020304",
		NtimeHex:       "5f5e1000",
		NonceHex:       "00000000",
	}
}

func TestValidateShareRejectsMalformedJobID(t *testing.T) {
	job := newValidatorTestJob("00000000deadbeef", 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()

	sub := baseSubmission("not-16-hex")
	outcome, err := ValidateShare(jm, dup, []byte{1, 2, 3, 4}, sub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted {
		t.Fatalf("expected rejection for malformed job id")
	}
	if outcome.RejectReason != "Invalid job id format" {
		t.Fatalf("reject reason = %q, want %q", outcome.RejectReason, "Invalid job id format")
	}
}

func TestValidateShareRejectsUnknownJob(t *testing.T) {
	job := newValidatorTestJob("00000000deadbeef", 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()

	sub := baseSubmission("ffffffffffffffff")
	outcome, err := ValidateShare(jm, dup, []byte{1, 2, 3, 4}, sub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted || outcome.RejectReason != "Job not found" {
		t.Fatalf("got accepted=%v reason=%q, want rejection \"Job not found\"", outcome.Accepted, outcome.RejectReason)
	}
}

func TestValidateShareRejectsStaleTime(t *testing.T) {
	jobID := "00000000deadbeef"
	job := newValidatorTestJob(jobID, 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()

	sub := baseSubmission(jobID)
	sub.NtimeHex = uint32ToBEHex(uint32(job.Template.CurTime) + 601)

	outcome, err := ValidateShare(jm, dup, []byte{1, 2, 3, 4}, sub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted || outcome.RejectReason != "Time out of range" {
		t.Fatalf("got accepted=%v reason=%q, want rejection \"Time out of range\"", outcome.Accepted, outcome.RejectReason)
	}
}

func TestValidateShareRejectsDuplicateSubmission(t *testing.T) {
	jobID := "00000000deadbeef"
	job := newValidatorTestJob(jobID, 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()
	extranonce1 := []byte{0x01, 0x02, 0x03, 0x04}

	sub := baseSubmission(jobID)
	sub.NtimeHex = uint32ToBEHex(uint32(job.Template.CurTime))

	if _, err := ValidateShare(jm, dup, extranonce1, sub, 1); err != nil {
		t.Fatalf("first submission: unexpected error: %v", err)
	}

	second, err := ValidateShare(jm, dup, extranonce1, sub, 1)
	if err != nil {
		t.Fatalf("second submission: unexpected error: %v", err)
	}
	if second.Accepted || second.RejectReason != "Duplicate share" {
		t.Fatalf("got accepted=%v reason=%q, want rejection \"Duplicate share\"", second.Accepted, second.RejectReason)
	}
}

func TestValidateShareAcceptsWhenPoolTargetIsNegligible(t *testing.T) {
	jobID := "00000000deadbeef"
	job := newValidatorTestJob(jobID, 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()
	extranonce1 := []byte{0x01, 0x02, 0x03, 0x04}

	sub := baseSubmission(jobID)
	sub.NtimeHex = uint32ToBEHex(uint32(job.Template.CurTime))

	// A vanishingly small session difficulty expands the pool target to the
	// maximum representable 256-bit value, so any header hash clears it.
	outcome, err := ValidateShare(jm, dup, extranonce1, sub, 1e-30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("expected acceptance with negligible pool target, got reject reason %q", outcome.RejectReason)
	}
}

func TestValidateShareRejectsBadExtranonce2Size(t *testing.T) {
	jobID := "00000000deadbeef"
	job := newValidatorTestJob(jobID, 1700000000)
	jm := newValidatorTestJobManager(job)
	dup := newSubmittedShareSet()

	sub := baseSubmission(jobID)
	sub.NtimeHex = uint32ToBEHex(uint32(job.Template.CurTime))
	sub.Extranonce2Hex = "01" // job.Extranonce2Size is 4 bytes / 8 hex chars

	outcome, err := ValidateShare(jm, dup, []byte{1, 2, 3, 4}, sub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted || outcome.RejectReason != "Invalid extranonce2 size" {
		t.Fatalf("got accepted=%v reason=%q, want rejection \"Invalid extranonce2 size\"", outcome.Accepted, outcome.RejectReason)
	}
}
