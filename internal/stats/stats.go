// Package stats periodically logs how many clients are connected and how
// many posts the board holds.
package stats

import (
	"fmt"

	"github.com/Tyrowin/boardchat/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Source reports a current count.
type Source func() int

// Figures is one sample of the server's shared state.
type Figures struct {
	Clients int
	Posts   int
}

// Reporter runs a cron job that logs Figures on a schedule.
type Reporter struct {
	cron     *cron.Cron
	schedule string
	clients  Source
	posts    Source
	log      logger.Logger
}

func NewReporter(schedule string, clients, posts Source, log logger.Logger) *Reporter {
	return &Reporter{
		cron:     cron.New(),
		schedule: schedule,
		clients:  clients,
		posts:    posts,
		log:      log,
	}
}

// Collect samples the sources now.
func (r *Reporter) Collect() Figures {
	return Figures{
		Clients: r.clients(),
		Posts:   r.posts(),
	}
}

// Start registers the job and starts the scheduler. An empty schedule
// disables reporting.
func (r *Reporter) Start() error {
	if r.schedule == "" {
		r.log.Info("Stats reporting disabled")
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, r.report); err != nil {
		return fmt.Errorf("schedule stats job %q: %w", r.schedule, err)
	}

	r.log.Info("Starting stats reporter", "schedule", r.schedule)
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reporter) report() {
	f := r.Collect()
	r.log.Info("Board stats", "clients", f.Clients, "posts", f.Posts)
}
