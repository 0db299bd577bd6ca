package tasks

// TaskSchedulerInterface is what the application and the HTTP surface use to
// drive background work: cron-triggered ticks, manual triggers and a bounded
// worker pool.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	Trigger(taskType TaskType) (string, error)
}
