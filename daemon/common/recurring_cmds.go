package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaydog/mtasession/datastruct"
	"github.com/relaydog/mtasession/lalog"
	"github.com/relaydog/mtasession/misc"
)

const (
	JobTimeoutSec = 10 // JobTimeoutSec is a hard coded timeout number constraining all jobs run by timer.
)

// Job is one unit of recurring work: a named function producing a single
// result line, run with a bounded timeout (JobTimeoutSec) by RecurringJobs.
// This is the adapted replacement for the teacher's toolbox.Command: rather
// than parsing a toolbox feature-trigger string, a Job already carries its
// own closure (e.g. refreshing a directory.ConfiguredDirectory's domain and
// address tables, per directory.go's Reload method).
type Job struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

/*
RecurringJobs executes a series of jobs, one at a time, at regular interval. Execution results of recent jobs are
memorised and can be retrieved at a later time. Beyond job execution results, arbitrary text messages may also be
memorised and retrieved together with job results. RecurringJobs is a useful structure for implementing a periodic
refresh mechanism such as directory.ConfiguredDirectory.Reload, without restarting the listener.
*/
type RecurringJobs struct {
	// PreConfiguredJobs are jobs pre-configured to run by the operator; they are never deleted upon clearing.
	PreConfiguredJobs []Job
	// IntervalSec is the number of seconds to sleep between execution of all jobs.
	IntervalSec int `json:"IntervalSec"`
	// MaxResults is the maximum number of results to memorise from job execution and text messages.
	MaxResults int `json:"MaxResults"`

	/*
		transientJobs are new jobs that are added on the fly and can be cleared by calling a function.
		During trigger, these jobs are executed after the pre-configured jobs.
	*/
	transientJobs []Job
	results       *datastruct.RingBuffer // results are the most recent job results and text messages to retrieve.
	mutex         sync.Mutex             // mutex prevents concurrent access to internal structures.
	logger        lalog.Logger
	cancelFunc    func()
}

// Initialise prepares internal states of a new RecurringJobs.
func (jobs *RecurringJobs) Initialise() error {
	if jobs.IntervalSec < 1 {
		return fmt.Errorf("RecurringJobs.Initialise: IntervalSec must be greater than 0")
	}
	if jobs.MaxResults < 1 {
		return fmt.Errorf("RecurringJobs.Initialise: MaxResults must be greater than 0")
	}
	if jobs.PreConfiguredJobs == nil {
		jobs.PreConfiguredJobs = []Job{}
	}
	jobs.results = datastruct.NewRingBuffer(int64(jobs.MaxResults))
	jobs.transientJobs = make([]Job, 0, 10)
	jobs.logger = lalog.Logger{
		ComponentName: "RecurringJobs",
		ComponentID:   []lalog.LoggerIDField{{Key: "Intv", Value: jobs.IntervalSec}},
	}
	return nil
}

/*
GetTransientJobs returns a copy of all transient jobs memorised for execution. If there is none, it returns
an empty slice.
*/
func (jobs *RecurringJobs) GetTransientJobs() []Job {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	ret := make([]Job, len(jobs.transientJobs))
	copy(ret, jobs.transientJobs)
	return ret
}

// AddTransientJob places a new job toward the end of the transient job list.
func (jobs *RecurringJobs) AddTransientJob(job Job) {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	jobs.transientJobs = append(jobs.transientJobs, job)
}

// ClearTransientJobs removes all transient jobs.
func (jobs *RecurringJobs) ClearTransientJobs() {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	jobs.transientJobs = make([]Job, 0, 10)
}

// runAllJobs executes all pre-configured and transient jobs one after another and stores their results.
func (jobs *RecurringJobs) runAllJobs(ctx context.Context) {
	// Access to the pre-configured job list is not protected by mutex since no other function modifies it.
	for _, job := range jobs.PreConfiguredJobs {
		jobs.runOne(ctx, job)
	}
	// Make a copy of the latest transient jobs that are about to run.
	jobs.mutex.Lock()
	transientJobs := make([]Job, len(jobs.transientJobs))
	copy(transientJobs, jobs.transientJobs)
	jobs.mutex.Unlock()
	for _, job := range transientJobs {
		jobs.runOne(ctx, job)
	}
}

func (jobs *RecurringJobs) runOne(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, JobTimeoutSec*time.Second)
	defer cancel()
	result, err := job.Run(jobCtx)
	if err != nil {
		jobs.logger.Warning(job.Name, err, "job execution failed")
		result = fmt.Sprintf("%s: %v", job.Name, err)
	}
	jobs.mutex.Lock()
	jobs.results.Push(result)
	jobs.mutex.Unlock()
}

/*
Start runs an infinite loop to execute all jobs one after another, then sleep for an interval.
The function launches the loop in the background and returns without waiting for it.
If Start function is already running, calling it a second time will do nothing and return immediately.
*/
func (jobs *RecurringJobs) Start() {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	if jobs.cancelFunc != nil {
		jobs.logger.Warning(fmt.Sprintf("Intv=%d", jobs.IntervalSec), nil, "starting an already started RecurringJobs becomes a nop")
		return
	}
	jobs.logger.Info(fmt.Sprintf("Intv=%d", jobs.IntervalSec), nil, "job execution now starts")
	ctx, cancelFunc := context.WithCancel(context.Background())
	jobs.cancelFunc = cancelFunc
	periodicFunc := func(ctx context.Context, _, _ int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			jobs.runAllJobs(ctx)
		}
		return nil
	}
	periodic := &misc.Periodic{
		LogActorName: jobs.logger.ComponentName,
		Interval:     time.Duration(jobs.IntervalSec) * time.Second,
		MaxInt:       1,
		Func:         periodicFunc,
	}
	_ = periodic.Start(ctx)
}

/*
Stop informs the running job processing loop to terminate as early as possible. It returns without waiting for the
loop to terminate. Calling the function while the job processing loop is not running yields no effect.
*/
func (jobs *RecurringJobs) Stop() {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	if jobs.cancelFunc != nil {
		jobs.cancelFunc()
		jobs.cancelFunc = nil
	}
	jobs.logger.Info("", nil, "stopped on request")
}

// AddArbitraryTextToResult simply places an arbitrary text string into result.
func (jobs *RecurringJobs) AddArbitraryTextToResult(text string) {
	// RingBuffer supports concurrent push access, there is no need to protect it with the timer's own mutex.
	jobs.results.Push(text)
}

// GetResults returns the latest job execution results and text messages, then clears the result buffer.
func (jobs *RecurringJobs) GetResults() []string {
	jobs.mutex.Lock()
	defer jobs.mutex.Unlock()
	ret := jobs.results.GetAll()
	jobs.results.Clear()
	return ret
}
