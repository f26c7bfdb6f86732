package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is a named maintenance job run on a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      func() error
}

// Scheduler runs periodic maintenance jobs such as memory compaction.
type Scheduler struct {
	tasks []Task
	cron  *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for the given tasks.
func New(tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		cron:  cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every task with a schedule and starts the cron ticker.
func (s *Scheduler) Start() error {
	for _, task := range s.tasks {
		if task.Schedule == "" || task.Run == nil {
			continue
		}

		name := task.Name
		run := task.Run

		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Info("cron firing task", "name", name)
			if err := run(); err != nil {
				slog.Error("scheduled task failed", "name", name, "error", err)
			}
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", task.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled task", "name", name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
