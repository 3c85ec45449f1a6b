package cmd

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/seqlike/snel/sequential"
)

type monitor struct {
	info    *expvar.Map
	stopped chan struct{}
	server  *http.Server

	Rounds        *expvar.Int
	CurrentRound  *expvar.Int
	TrainRows     *expvar.Int
	ValidRows     *expvar.Int
	BestValidLoss *expvar.Float
	RunTime       *expvar.Float

	start time.Time
}

// Start begins the monitor
func (m *monitor) Start(addr string) error {
	if m.info != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	m.info = expvar.NewMap("snel-progress")
	m.stopped = make(chan struct{})
	m.server = &http.Server{
		Addr: addr,
	}

	// Help the user and redirect to the only thing currently available:
	// the handler from the expvar package
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})

	m.Rounds = expvar.NewInt("Rounds")
	m.CurrentRound = expvar.NewInt("Current-Round")
	m.TrainRows = expvar.NewInt("Train-Rows")
	m.ValidRows = expvar.NewInt("Valid-Rows")
	m.BestValidLoss = expvar.NewFloat("Best-Valid-Loss")
	m.RunTime = expvar.NewFloat("Run-Time")

	m.start = time.Now()

	// Actual server that will close the stopped channel on exit
	started := make(chan struct{})
	go func() {
		defer close(m.stopped)
		fmt.Fprintf(os.Stderr, "HTTP now available at %v (see debug/vars/)\n", m.server.Addr)
		close(started)
		m.server.ListenAndServe()
	}()

	<-started
	return nil
}

// Update publishes one completed round.
func (m *monitor) Update(r sequential.RoundResult) {
	if m.info == nil {
		return
	}

	m.CurrentRound.Set(int64(r.Round))
	m.TrainRows.Set(int64(r.TrainRows))
	m.ValidRows.Set(int64(r.ValidRows))
	m.BestValidLoss.Set(r.BestValidLoss)
	m.RunTime.Set(time.Since(m.start).Seconds())
}

func (m *monitor) Stop() {
	if m.info == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
}
