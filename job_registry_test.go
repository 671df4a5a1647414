package main

import (
	"fmt"
	"testing"
)

func newRegistryTestJobManager() *JobManager {
	cfg := Config{MaxRecentJobs: 20}
	return NewJobManager(nil, cfg, NewPoolMetrics(), []byte{0x51})
}

func pushTestJob(jm *JobManager, id string) *Job {
	job := &Job{JobID: id}
	jm.mu.Lock()
	jm.curJob = job
	jm.jobHistory = append(jm.jobHistory, job)
	if len(jm.jobHistory) > jm.cfg.MaxRecentJobs {
		jm.jobHistory = jm.jobHistory[len(jm.jobHistory)-jm.cfg.MaxRecentJobs:]
	}
	jm.mu.Unlock()
	return job
}

func TestJobRegistryBoundedAt20(t *testing.T) {
	jm := newRegistryTestJobManager()
	for i := 0; i < 25; i++ {
		pushTestJob(jm, fmt.Sprintf("%016x", i))
	}

	jm.mu.RLock()
	n := len(jm.jobHistory)
	jm.mu.RUnlock()
	if n > 20 {
		t.Fatalf("job history length = %d, want <= 20", n)
	}
}

func TestJobRegistryRetainsNewestAfterEviction(t *testing.T) {
	jm := newRegistryTestJobManager()
	var last *Job
	for i := 0; i < 25; i++ {
		last = pushTestJob(jm, fmt.Sprintf("%016x", i))
	}

	if jm.JobByID(last.JobID) != last {
		t.Fatalf("JobByID did not return the most recently inserted job")
	}
	if jm.JobByID("0000000000000000") != nil {
		t.Fatalf("JobByID returned a job evicted from the bounded history")
	}
}

func TestJobByIDFindsJobWithinWindow(t *testing.T) {
	jm := newRegistryTestJobManager()
	var jobs []*Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, pushTestJob(jm, fmt.Sprintf("%016x", i)))
	}

	mid := jobs[5]
	if jm.JobByID(mid.JobID) != mid {
		t.Fatalf("JobByID did not find a job still within the retained window")
	}
}

func TestJobByIDUnknownReturnsNil(t *testing.T) {
	jm := newRegistryTestJobManager()
	pushTestJob(jm, "0000000000000001")

	if jm.JobByID("ffffffffffffffff") != nil {
		t.Fatalf("JobByID returned a job for an id that was never issued")
	}
}
